package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/grouping"
	"fieldconfig-backend/internal/schema"
	"fieldconfig-backend/internal/template"
)

// ErrUnsavedChanges is returned when a full-replace operation would discard
// local edits and the caller did not force it.
var ErrUnsavedChanges = errors.New("unsaved changes would be discarded")

// Gateway is the remote boundary of a session.
type Gateway interface {
	FetchConfig(ctx context.Context) (fieldconfig.Sequence, error)
	SaveConfig(ctx context.Context, seq fieldconfig.Sequence) (string, error)
	SyncRemoteMetadata(ctx context.Context) (string, error)
	FetchRawSchema(ctx context.Context) ([]byte, error)
}

// Session is one user's editing state: the active field sequence, the
// template library, group expand state and transient notices.
//
// Remote calls are made without holding the session lock, so several can be
// in flight; whichever completes last overwrites the state.
type Session struct {
	ID string

	mu       sync.Mutex
	fields   *fieldconfig.Store
	library  *template.Library
	expand   *grouping.ExpandState
	groupSet []string
	dirty    bool
	schema   *schema.Result
	lastSeen time.Time

	grouping *grouping.Engine
	gateway  Gateway
	notices  *Notices
	log      *zap.Logger
	now      func() time.Time
}

type Options struct {
	Grouping  *grouping.Engine
	NoticeTTL time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

func New(id string, gw Gateway, opts Options) *Session {
	if opts.Grouping == nil {
		opts.Grouping = grouping.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 5 * time.Second
	}
	return &Session{
		ID:       id,
		fields:   fieldconfig.NewStore(nil),
		library:  template.NewLibrary(),
		expand:   grouping.NewExpandState(),
		grouping: opts.Grouping,
		gateway:  gw,
		notices:  NewNotices(opts.NoticeTTL, opts.Now),
		log:      opts.Logger.With(zap.String("session", id)),
		now:      opts.Now,
		lastSeen: opts.Now(),
	}
}

// Open loads the canonical config and the raw schema concurrently. Either
// may fail; failures become notices and the session stays usable.
func (s *Session) Open(ctx context.Context) {
	var (
		seq      fieldconfig.Sequence
		raw      []byte
		fetchErr error
		rawErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		seq, fetchErr = s.gateway.FetchConfig(ctx)
		return nil
	})
	g.Go(func() error {
		raw, rawErr = s.gateway.FetchRawSchema(ctx)
		return nil
	})
	_ = g.Wait()

	if fetchErr != nil {
		s.fail("Failed to load configurations.", fetchErr)
	} else {
		s.applyRemote(seq)
	}
	if rawErr != nil {
		s.log.Warn("raw schema unavailable", zap.Error(rawErr))
		return
	}
	if res, err := schema.NormalizeResult(raw); err != nil {
		s.log.Warn("raw schema not recognised", zap.Error(err))
	} else {
		s.mu.Lock()
		s.schema = &res
		s.mu.Unlock()
	}
}

// Touch records activity for idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) Notices() *Notices { return s.notices }

// --- remote operations ---

// Reload re-fetches the canonical config, replacing the active sequence.
func (s *Session) Reload(ctx context.Context, force bool) error {
	if err := s.guard(force, "reload"); err != nil {
		return err
	}
	seq, err := s.gateway.FetchConfig(ctx)
	if err != nil {
		s.fail("Failed to load configurations.", err)
		return err
	}
	s.applyRemote(seq)
	return nil
}

// Save pushes the active sequence and then re-fetches, so slot 0 reflects
// the remote copy rather than the one just sent.
func (s *Session) Save(ctx context.Context) (string, error) {
	msg, err := s.gateway.SaveConfig(ctx, s.fields.Snapshot())
	if err != nil {
		s.fail("Failed to save settings.", err)
		return "", err
	}
	seq, err := s.gateway.FetchConfig(ctx)
	if err != nil {
		s.fail("Settings saved but reloading them failed.", err)
		return msg, err
	}
	s.applyRemote(seq)
	s.notices.Add(LevelSuccess, "Settings saved successfully!")
	s.log.Info("configuration saved", zap.Int("fields", len(seq)))
	return msg, nil
}

// Sync asks the remote to re-derive its config from upstream and then
// replaces the active sequence with the result.
func (s *Session) Sync(ctx context.Context, force bool) (string, error) {
	if err := s.guard(force, "sync"); err != nil {
		return "", err
	}
	msg, err := s.gateway.SyncRemoteMetadata(ctx)
	if err != nil {
		s.fail("OTM Sync failed.", err)
		return "", err
	}
	seq, err := s.gateway.FetchConfig(ctx)
	if err != nil {
		s.fail("Failed to load configurations.", err)
		return msg, err
	}
	s.applyRemote(seq)
	if msg == "" {
		msg = "OTM Fields synchronized!"
	}
	s.notices.Add(LevelSuccess, msg)
	return msg, nil
}

// NormalizeSchema fetches the raw schema document, normalizes it and
// installs the result as a new uploaded template named after the schema.
func (s *Session) NormalizeSchema(ctx context.Context) (int, schema.Result, error) {
	raw, err := s.gateway.FetchRawSchema(ctx)
	if err != nil {
		s.fail("Failed to fetch schema metadata.", err)
		return 0, schema.Result{}, err
	}
	res, err := schema.NormalizeResult(raw)
	if err != nil {
		s.fail("Schema document not recognised.", err)
		return 0, res, err
	}
	name := res.Schema
	if name == "" {
		name = "Schema " + res.Kind.String()
	}

	s.mu.Lock()
	s.schema = &res
	idx := s.library.Upload(name, res.Fields, template.LocalUpload{FileName: name, UploadedAt: s.now()})
	s.installLocked(res.Fields)
	s.mu.Unlock()

	s.notices.Add(LevelSuccess, fmt.Sprintf("Generated %d fields from %s.", len(res.Fields), name))
	return idx, res, nil
}

// SchemaInfo returns the last normalized schema, if any.
func (s *Session) SchemaInfo() (schema.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema == nil {
		return schema.Result{}, false
	}
	res := *s.schema
	res.Fields = res.Fields.Clone()
	return res, true
}

func (s *Session) guard(force bool, op string) error {
	if force {
		return nil
	}
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	s.notices.Add(LevelWarning, "You have unsaved changes. Save them first or confirm to discard.")
	return fmt.Errorf("%s: %w", op, ErrUnsavedChanges)
}

// applyRemote installs a canonical sequence into slot 0 and the store.
func (s *Session) applyRemote(seq fieldconfig.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.library.RefreshSlotZero(seq)
	if _, err := s.library.Select(0); err != nil {
		s.log.Error("select live template", zap.Error(err))
	}
	s.installLocked(seq)
}

// installLocked replaces the active sequence wholesale and expands every
// group again. Callers hold s.mu.
func (s *Session) installLocked(seq fieldconfig.Sequence) {
	s.fields.Replace(seq)
	s.regroupLocked(true)
	s.dirty = !fieldconfig.Equal(s.fields.Snapshot(), s.library.SlotZero())
}

// regroupLocked recomputes the group set. Expand state is reset when reset
// is set or when an in-place edit changed the set of groups.
func (s *Session) regroupLocked(reset bool) {
	names := grouping.Names(s.grouping.Group(s.fields.Snapshot()))
	if !reset && equalStrings(names, s.groupSet) {
		return
	}
	s.groupSet = names
	s.expand.Reset(names)
}

func (s *Session) fail(msg string, err error) {
	s.log.Warn(msg, zap.Error(err))
	s.notices.Add(LevelError, msg)
}

// --- templates ---

// SelectTemplate installs a deep copy of library entry i, discarding
// unsaved edits to the previous sequence.
func (s *Session) SelectTemplate(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.library.Select(i)
	if err != nil {
		return err
	}
	s.installLocked(seq)
	e, _ := s.library.Entry(i)
	s.notices.Add(LevelSuccess, "Switched to: "+e.Name)
	return nil
}

// UploadTemplate decodes a descriptor list, appends it to the library and
// makes it active. On a decode error nothing changes.
func (s *Session) UploadTemplate(name string, r io.Reader, origin template.LocalUpload) (int, error) {
	seq, err := template.DecodeUpload(r)
	if err != nil {
		s.fail("Invalid JSON file.", err)
		return 0, err
	}
	if origin.UploadedAt.IsZero() {
		origin.UploadedAt = s.now()
	}
	s.mu.Lock()
	idx := s.library.Upload(name, seq, origin)
	s.installLocked(seq)
	s.mu.Unlock()
	s.notices.Add(LevelSuccess, "Template uploaded and applied!")
	return idx, nil
}

func (s *Session) Templates() []template.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.library.Entries()
}

// Export writes the active sequence.
func (s *Session) Export(w io.Writer, f template.Format) error {
	return template.Export(w, s.fields.Snapshot(), f)
}

// --- field edits ---

// Fields returns the active sequence filtered by term.
func (s *Session) Fields(term string) fieldconfig.Sequence {
	return s.fields.Filter(term)
}

func (s *Session) Field(key string) (fieldconfig.Descriptor, bool) {
	return s.fields.Get(key)
}

func (s *Session) UpdateField(key string, attr fieldconfig.Attr, value any) bool {
	return s.edit(func(st *fieldconfig.Store) bool { return st.Update(key, attr, value) })
}

func (s *Session) ToggleField(key string, attr fieldconfig.Attr) bool {
	return s.edit(func(st *fieldconfig.Store) bool { return st.Toggle(key, attr) })
}

func (s *Session) AddSlot(key string) bool {
	return s.edit(func(st *fieldconfig.Store) bool { return st.AddSlot(key) })
}

func (s *Session) RemoveSlot(key string, i int) bool {
	return s.edit(func(st *fieldconfig.Store) bool { return st.RemoveSlot(key, i) })
}

func (s *Session) SetSlot(key string, i int, v string) bool {
	return s.edit(func(st *fieldconfig.Store) bool { return st.SetSlot(key, i, v) })
}

func (s *Session) edit(fn func(*fieldconfig.Store) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn(s.fields) {
		return false
	}
	s.regroupLocked(false)
	s.dirty = !fieldconfig.Equal(s.fields.Snapshot(), s.library.SlotZero())
	return true
}

// Dirty reports whether the active sequence differs from slot 0.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// PendingChanges diffs the active sequence against slot 0.
func (s *Session) PendingChanges() []fieldconfig.Change {
	s.mu.Lock()
	base := s.library.SlotZero()
	s.mu.Unlock()
	return fieldconfig.Diff(base, s.fields.Snapshot())
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
