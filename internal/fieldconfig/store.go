package fieldconfig

import "sync"

// Attr names an editable descriptor attribute.
type Attr string

const (
	AttrLabel        Attr = "label"
	AttrDefaultValue Attr = "defaultValue"
	AttrSection      Attr = "section"
	AttrDisplay      Attr = "display"
	AttrMandatory    Attr = "mandatory"
)

// Store holds the single active descriptor sequence. Every mutation keeps
// the sequence invariants; invalid requests are no-ops and report false.
type Store struct {
	mu  sync.RWMutex
	seq Sequence
}

func NewStore(seq Sequence) *Store {
	s := &Store{}
	s.Replace(seq)
	return s
}

// Replace swaps the whole sequence for a deep copy of seq.
func (s *Store) Replace(seq Sequence) {
	next := seq.Enforced()
	s.mu.Lock()
	s.seq = next
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the active sequence.
func (s *Store) Snapshot() Sequence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq.Clone()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seq)
}

// Get returns a copy of the descriptor for key.
func (s *Store) Get(key string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.seq.Index(key)
	if i < 0 {
		return Descriptor{}, false
	}
	return s.seq[i].Clone(), true
}

// Filter returns the descriptors matching term on key or label.
func (s *Store) Filter(term string) Sequence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq.Filter(term)
}

func (s *Store) mutate(key string, fn func(d *Descriptor) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.seq.Index(key)
	if i < 0 {
		return false
	}
	d := s.seq[i].Clone()
	if !fn(&d) {
		return false
	}
	Enforce(&d)
	s.seq[i] = d
	return true
}

// Update sets a non-toggle attribute. The label is always editable; the
// default value and section of a core field cannot be changed. Boolean
// attributes are routed through Toggle so their side effects still apply.
func (s *Store) Update(key string, attr Attr, value any) bool {
	switch attr {
	case AttrDisplay, AttrMandatory:
		want, ok := value.(bool)
		if !ok {
			return false
		}
		cur, found := s.Get(key)
		if !found {
			return false
		}
		if (attr == AttrDisplay && cur.Display == want) || (attr == AttrMandatory && cur.Mandatory == want) {
			return false
		}
		return s.Toggle(key, attr)
	}

	return s.mutate(key, func(d *Descriptor) bool {
		switch attr {
		case AttrLabel:
			label, ok := value.(string)
			if !ok || label == d.Label {
				return false
			}
			d.Label = label
			return true
		case AttrSection:
			section, ok := value.(string)
			if !ok || IsCore(d.Key) || section == d.Section {
				return false
			}
			d.Section = section
			return true
		case AttrDefaultValue:
			if IsCore(d.Key) {
				return false
			}
			v, ok := ValueFrom(value)
			if !ok {
				return false
			}
			if d.ValueType == Array && !v.IsList {
				v = ListValue(v.Text)
			}
			if d.ValueType == Scalar && v.IsList {
				v = ScalarValue(v.String())
			}
			if v.Equal(d.Default) {
				return false
			}
			d.Default = v
			return true
		default:
			return false
		}
	})
}

// Toggle flips a boolean attribute. Turning mandatory on forces display and
// locks the field; display cannot be toggled while the field is locked.
func (s *Store) Toggle(key string, attr Attr) bool {
	return s.mutate(key, func(d *Descriptor) bool {
		switch attr {
		case AttrMandatory:
			d.Mandatory = !d.Mandatory
			if d.Mandatory {
				d.Display = true
				d.Disabled = true
			}
			return true
		case AttrDisplay:
			if d.Disabled {
				return false
			}
			d.Display = !d.Display
			return true
		default:
			return false
		}
	})
}

// AddSlot appends a blank slot to an array field's default value.
func (s *Store) AddSlot(key string) bool {
	return s.mutate(key, func(d *Descriptor) bool {
		if d.ValueType != Array || IsCore(d.Key) {
			return false
		}
		d.Default.Slots = append(d.Default.Slots, "")
		return true
	})
}

// RemoveSlot drops slot i. Removing the last slot leaves a single blank one.
func (s *Store) RemoveSlot(key string, i int) bool {
	return s.mutate(key, func(d *Descriptor) bool {
		if d.ValueType != Array || IsCore(d.Key) || i < 0 || i >= len(d.Default.Slots) {
			return false
		}
		d.Default.Slots = append(d.Default.Slots[:i], d.Default.Slots[i+1:]...)
		return true
	})
}

// SetSlot overwrites slot i of an array field's default value.
func (s *Store) SetSlot(key string, i int, value string) bool {
	return s.mutate(key, func(d *Descriptor) bool {
		if d.ValueType != Array || IsCore(d.Key) || i < 0 || i >= len(d.Default.Slots) {
			return false
		}
		if d.Default.Slots[i] == value {
			return false
		}
		d.Default.Slots[i] = value
		return true
	})
}
