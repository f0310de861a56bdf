package instrument

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldconfig-backend/internal/config"
	"fieldconfig-backend/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "events"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func TestEventBuffer_FlushOnStop(t *testing.T) {
	s := newTestStore(t)
	eb := NewEventBuffer(s, 100, time.Hour, nil)

	eb.Record(Event{Action: ActionSave, Source: "api", Message: "Configuration saved", FieldCount: 4})
	eb.Record(Event{Action: ActionSync, Source: "upstream", Added: 2, Metadata: map[string]any{"keys": []any{"a", "b"}}})
	assert.Equal(t, 2, eb.Pending())

	eb.Stop()
	eb.Stop()
	assert.Zero(t, eb.Pending())

	events, total, err := ListEvents(context.Background(), s, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)

	byAction := map[string]Event{}
	for _, e := range events {
		byAction[e.Action] = e
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "ok", e.Status)
		assert.False(t, e.CreatedAt.IsZero())
	}
	assert.Equal(t, 4, byAction[ActionSave].FieldCount)
	assert.Equal(t, 2, byAction[ActionSync].Added)
	assert.Equal(t, []any{"a", "b"}, byAction[ActionSync].Metadata["keys"])
}

func TestEventBuffer_FlushWhenFull(t *testing.T) {
	s := newTestStore(t)
	eb := NewEventBuffer(s, 2, time.Hour, nil)
	defer eb.Stop()

	eb.Record(Event{Action: ActionSave})
	eb.Record(Event{Action: ActionSave})

	require.Eventually(t, func() bool {
		_, total, err := ListEvents(context.Background(), s, Filter{})
		return err == nil && total == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListEvents_FilterAndPaging(t *testing.T) {
	s := newTestStore(t)
	eb := NewEventBuffer(s, 100, time.Hour, nil)
	for i := 0; i < 3; i++ {
		eb.Record(Event{Action: ActionSave})
	}
	eb.Record(Event{Action: ActionSync, Status: "error"})
	eb.Stop()

	events, total, err := ListEvents(context.Background(), s, Filter{Action: ActionSave, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, events, 2)

	events, total, err = ListEvents(context.Background(), s, Filter{Action: ActionSave, PerPage: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, events, 1)

	events, _, err = ListEvents(context.Background(), s, Filter{Status: "error"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionSync, events[0].Action)
}

func TestCleanupOldEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := store.Exec(ctx, s.DB,
		`INSERT INTO _config_events (id, action, created_at) VALUES (?1, ?2, datetime('now', '-40 days')), (?3, ?4, datetime('now'))`,
		"old", ActionSave, "new", ActionSave)
	require.NoError(t, err)

	n, err := CleanupOldEvents(ctx, s, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = CleanupOldEvents(ctx, s, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHistoryHandler_List(t *testing.T) {
	s := newTestStore(t)
	eb := NewEventBuffer(s, 100, time.Hour, nil)
	eb.Record(Event{Action: ActionSync, Message: "Successfully synced 1 new fields."})
	eb.Stop()

	app := fiber.New()
	app.Get("/history", NewHistoryHandler(s).List)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/history?per_page=500", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data       []Event `json:"data"`
		Pagination struct {
			PerPage int `json:"per_page"`
			Total   int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 100, body.Pagination.PerPage)
	assert.Equal(t, 1, body.Pagination.Total)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "Successfully synced 1 new fields.", body.Data[0].Message)
}
