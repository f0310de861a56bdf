package template

import (
	"errors"
	"fmt"
	"time"

	"fieldconfig-backend/internal/fieldconfig"
)

const LiveName = "Template Mapping"

var ErrIndexOutOfRange = errors.New("template index out of range")

// Origin records where a library entry came from. It is either Live (slot 0,
// mirrored from the canonical config) or LocalUpload.
type Origin interface {
	Kind() string
}

type Live struct{}

func (Live) Kind() string { return "live" }

// LocalUpload is a snapshot uploaded during this session. ArchiveKey is set
// when the raw upload was archived.
type LocalUpload struct {
	FileName   string
	UploadedAt time.Time
	ArchiveKey string
}

func (LocalUpload) Kind() string { return "local_upload" }

// Entry is one named snapshot in the library.
type Entry struct {
	Name   string
	Origin Origin
	Data   fieldconfig.Sequence
}

// Summary is the listing form of an entry.
type Summary struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	Origin     string    `json:"origin"`
	Fields     int       `json:"fields"`
	Selected   bool      `json:"selected"`
	UploadedAt time.Time `json:"uploadedAt,omitzero"`
}

// Library is an ordered list of snapshots plus the selected index. Slot 0 is
// always the Live entry. A Library is not safe for concurrent use.
type Library struct {
	entries  []Entry
	selected int
}

func NewLibrary() *Library {
	return &Library{entries: []Entry{{Name: LiveName, Origin: Live{}, Data: fieldconfig.Sequence{}}}}
}

func (l *Library) Len() int { return len(l.entries) }

func (l *Library) Selected() int { return l.selected }

// Entry returns a deep copy of entry i.
func (l *Library) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(l.entries))
	}
	e := l.entries[i]
	e.Data = e.Data.Clone()
	return e, nil
}

// SlotZero returns a deep copy of the Live snapshot.
func (l *Library) SlotZero() fieldconfig.Sequence {
	return l.entries[0].Data.Clone()
}

// Select makes entry i active and returns a deep copy of its data for the
// caller to install wholesale. Selecting the same index twice yields equal
// copies.
func (l *Library) Select(i int) (fieldconfig.Sequence, error) {
	e, err := l.Entry(i)
	if err != nil {
		return nil, err
	}
	l.selected = i
	return e.Data, nil
}

// Upload appends one LocalUpload entry, selects it and returns its index.
// Existing entries are left untouched.
func (l *Library) Upload(name string, seq fieldconfig.Sequence, origin LocalUpload) int {
	if origin.FileName == "" {
		origin.FileName = name
	}
	l.entries = append(l.entries, Entry{Name: name, Origin: origin, Data: seq.Clone()})
	l.selected = len(l.entries) - 1
	return l.selected
}

// RefreshSlotZero installs seq as the Live snapshot. With at most one entry
// the library is reset to just slot 0; otherwise only slot 0's data changes.
func (l *Library) RefreshSlotZero(seq fieldconfig.Sequence) {
	if len(l.entries) <= 1 {
		l.entries = []Entry{{Name: LiveName, Origin: Live{}, Data: seq.Clone()}}
		l.selected = 0
		return
	}
	l.entries[0].Data = seq.Clone()
}

// Entries lists every entry in order.
func (l *Library) Entries() []Summary {
	out := make([]Summary, len(l.entries))
	for i, e := range l.entries {
		s := Summary{
			Index:    i,
			Name:     e.Name,
			Origin:   e.Origin.Kind(),
			Fields:   len(e.Data),
			Selected: i == l.selected,
		}
		if up, ok := e.Origin.(LocalUpload); ok {
			s.UploadedAt = up.UploadedAt
		}
		out[i] = s
	}
	return out
}
