package configsvc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/instrument"
	"fieldconfig-backend/internal/schema"
)

var (
	// ErrNoSource is returned by sync and metadata when no upstream is configured.
	ErrNoSource = errors.New("no upstream metadata source configured")
	// ErrNoUpstreamFields is returned when the upstream document yields no fields.
	ErrNoUpstreamFields = errors.New("no fields found in upstream metadata")
)

const SavedMessage = "Active configuration updated successfully!"

// catalogSchema is the schema of the upstream items catalog that sync reads.
const catalogSchema = "items"

// skipOnSync lists upstream properties that are links rather than fields.
var skipOnSync = map[string]bool{"links": true, "_self": true}

// Service owns the canonical field configuration.
type Service struct {
	repo     *Repository
	source   Source
	recorder instrument.Recorder
	log      *zap.Logger
}

func NewService(repo *Repository, src Source, rec instrument.Recorder, log *zap.Logger) *Service {
	if rec == nil {
		rec = instrument.NoopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, source: src, recorder: rec, log: log}
}

func (s *Service) Config(ctx context.Context) (fieldconfig.Sequence, error) {
	return s.repo.List(ctx)
}

// Save replaces the canonical configuration with seq after restoring the
// descriptor invariants. Later duplicates of a key are dropped.
func (s *Service) Save(ctx context.Context, seq fieldconfig.Sequence, source string) (string, error) {
	seq = seq.Dedupe().Enforced()
	if err := s.repo.Replace(ctx, seq); err != nil {
		s.record(instrument.Event{Action: instrument.ActionSave, Source: source, FieldCount: len(seq), Status: "error", Message: err.Error()})
		return "", err
	}
	s.log.Info("configuration replaced", zap.String("source", source), zap.Int("fields", len(seq)))
	s.record(instrument.Event{Action: instrument.ActionSave, Source: source, FieldCount: len(seq), Message: SavedMessage})
	return SavedMessage, nil
}

// Sync adds every upstream field not yet configured. New fields start
// hidden, unlabelled and in the "core" section; core fields are forced
// visible. Existing rows are never modified.
func (s *Service) Sync(ctx context.Context) (int, string, error) {
	raw, err := s.RawMetadata(ctx)
	if err != nil {
		return 0, "", err
	}
	res, err := schema.NormalizeResult(raw, catalogSchema)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	candidates := make(fieldconfig.Sequence, 0, len(res.Fields))
	for _, f := range res.Fields {
		if skipOnSync[f.Key] {
			continue
		}
		d := fieldconfig.Descriptor{
			Key:       f.Key,
			ValueType: f.ValueType,
			Section:   "core",
			DataType:  f.DataType,
		}
		fieldconfig.Enforce(&d)
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return 0, "", ErrNoUpstreamFields
	}

	added, err := s.repo.AddMissing(ctx, candidates)
	if err != nil {
		s.record(instrument.Event{Action: instrument.ActionSync, Source: "upstream", Status: "error", Message: err.Error()})
		return 0, "", err
	}
	msg := fmt.Sprintf("Successfully synced %d new fields.", len(added))
	s.log.Info("upstream sync", zap.String("schema", res.Schema), zap.Int("added", len(added)))
	s.record(instrument.Event{
		Action:     instrument.ActionSync,
		Source:     "upstream",
		Message:    msg,
		FieldCount: len(candidates),
		Added:      len(added),
		Metadata:   map[string]any{"schema": res.Schema, "kind": res.Kind.String(), "keys": added},
	})
	return len(added), msg, nil
}

// RawMetadata returns the upstream document unchanged.
func (s *Service) RawMetadata(ctx context.Context) ([]byte, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	return s.source.Fetch(ctx)
}

func (s *Service) record(e instrument.Event) {
	s.recorder.Record(e)
}
