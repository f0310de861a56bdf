package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"fieldconfig-backend/internal/store"
)

// Filter narrows a history listing.
type Filter struct {
	Action  string
	Status  string
	Page    int
	PerPage int
}

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
}

// ListEvents returns history entries newest first together with the total
// number of matches.
func ListEvents(ctx context.Context, s *store.Store, f Filter) ([]Event, int, error) {
	f.normalize()
	pb := s.Dialect.NewParamBuilder()
	var conditions []string
	if f.Action != "" {
		conditions = append(conditions, "action = "+pb.Add(f.Action))
	}
	if f.Status != "" {
		conditions = append(conditions, "status = "+pb.Add(f.Status))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	countRow, err := store.QueryRow(ctx, s.DB, "SELECT COUNT(*) AS count FROM _config_events"+where, pb.Params()...)
	if err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	total := toInt(countRow["count"])

	dataSQL := fmt.Sprintf(
		"SELECT id, action, source, message, field_count, added, status, metadata, created_at FROM _config_events%s ORDER BY created_at DESC, id LIMIT %s OFFSET %s",
		where, pb.Add(f.PerPage), pb.Add((f.Page-1)*f.PerPage),
	)
	rows, err := store.QueryRows(ctx, s.DB, dataSQL, pb.Params()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	return events, total, nil
}

func eventFromRow(row map[string]any) Event {
	e := Event{
		ID:         toString(row["id"]),
		Action:     toString(row["action"]),
		Source:     toString(row["source"]),
		Message:    toString(row["message"]),
		FieldCount: toInt(row["field_count"]),
		Added:      toInt(row["added"]),
		Status:     toString(row["status"]),
	}
	if t, ok := row["created_at"].(time.Time); ok {
		e.CreatedAt = t
	}
	switch meta := row["metadata"].(type) {
	case string:
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	case []byte:
		_ = json.Unmarshal(meta, &e.Metadata)
	case map[string]any:
		e.Metadata = meta
	}
	return e
}

// HistoryHandler exposes the change history over REST.
type HistoryHandler struct {
	store *store.Store
}

func NewHistoryHandler(s *store.Store) *HistoryHandler {
	return &HistoryHandler{store: s}
}

// List handles GET /config/history.
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	f := Filter{Action: c.Query("action"), Status: c.Query("status"), Page: page, PerPage: perPage}
	f.normalize()

	events, total, err := ListEvents(c.UserContext(), h.store, f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": events,
		"pagination": fiber.Map{
			"page":     f.Page,
			"per_page": f.PerPage,
			"total":    total,
		},
	})
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
