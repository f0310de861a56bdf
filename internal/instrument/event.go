package instrument

import "time"

// Actions recorded in the change history.
const (
	ActionSave = "save"
	ActionSync = "sync"
)

// Event is one entry of the configuration change history.
type Event struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Source     string         `json:"source"`
	Message    string         `json:"message"`
	FieldCount int            `json:"field_count"`
	Added      int            `json:"added"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Recorder accepts change events.
type Recorder interface {
	Record(e Event)
}
