package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldconfig-backend/internal/store"
)

var eventColumns = []string{"id", "action", "source", "message", "field_count", "added", "status", "metadata"}

// EventBuffer collects events in memory and periodically flushes them
// to the _config_events table in a batch insert.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	store   *store.Store
	maxSize int
	log     *zap.Logger
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(s *store.Store, maxSize int, flushInterval time.Duration, log *zap.Logger) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	eb := &EventBuffer{
		store:   s,
		maxSize: maxSize,
		log:     log,
		done:    make(chan struct{}),
		ticker:  time.NewTicker(flushInterval),
	}
	eb.wg.Add(1)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush(context.Background())
		}
	}
}

// Record adds an event to the buffer. If the buffer is full, a flush
// is triggered asynchronously.
func (eb *EventBuffer) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = "ok"
	}
	eb.mu.Lock()
	eb.events = append(eb.events, e)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			eb.Flush(context.Background())
		}()
	}
}

// Pending returns the number of buffered, unflushed events.
func (eb *EventBuffer) Pending() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes all buffered events to the database in a single batch insert.
func (eb *EventBuffer) Flush(ctx context.Context) {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	if err := eb.insert(ctx, batch); err != nil {
		eb.log.Error("event buffer flush", zap.Int("events", len(batch)), zap.Error(err))
	}
}

func (eb *EventBuffer) insert(ctx context.Context, batch []Event) error {
	pb := eb.store.Dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(batch))
	for _, e := range batch {
		var meta any
		if e.Metadata != nil {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			meta = string(b)
		}
		ph := []string{
			pb.Add(e.ID), pb.Add(e.Action), pb.Add(e.Source), pb.Add(e.Message),
			pb.Add(e.FieldCount), pb.Add(e.Added), pb.Add(e.Status), pb.Add(meta),
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sqlStr := fmt.Sprintf("INSERT INTO _config_events (%s) VALUES %s",
		strings.Join(eventColumns, ","), strings.Join(placeholders, ","))
	if _, err := store.Exec(ctx, eb.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// Stop halts the background ticker and flushes remaining events.
func (eb *EventBuffer) Stop() {
	eb.once.Do(func() {
		eb.ticker.Stop()
		close(eb.done)
		eb.wg.Wait()
		eb.Flush(context.Background())
	})
}
