package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient message shown to the user until it expires.
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Notices keeps auto-dismissing notices.
type Notices struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items []Notice
}

func NewNotices(ttl time.Duration, now func() time.Time) *Notices {
	if now == nil {
		now = time.Now
	}
	return &Notices{ttl: ttl, now: now}
}

func (n *Notices) Add(level Level, msg string) Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	item := Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   msg,
		CreatedAt: now,
		ExpiresAt: now.Add(n.ttl),
	}
	n.items = append(n.prune(now), item)
	return item
}

// Active returns the unexpired notices, oldest first.
func (n *Notices) Active() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = n.prune(n.now())
	out := make([]Notice, len(n.items))
	copy(out, n.items)
	return out
}

// Dismiss removes a notice before it expires.
func (n *Notices) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

func (n *Notices) prune(now time.Time) []Notice {
	kept := n.items[:0]
	for _, item := range n.items {
		if now.Before(item.ExpiresAt) {
			kept = append(kept, item)
		}
	}
	return kept
}
