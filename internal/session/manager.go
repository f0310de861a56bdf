package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldconfig-backend/internal/grouping"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims is the signed part of a session token.
type Claims struct {
	jwt.RegisteredClaims
}

// ManagerConfig holds the session lifecycle settings.
type ManagerConfig struct {
	Secret        string
	TTL           time.Duration
	NoticeTTL     time.Duration
	SweepInterval time.Duration
}

// Manager owns every live editing session. Sessions idle for longer than
// the TTL are dropped by a background sweeper; their uploads are lost.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg      ManagerConfig
	gateway  Gateway
	grouping *grouping.Engine
	log      *zap.Logger
	now      func() time.Time
	onEvict  func(id string)

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewManager(cfg ManagerConfig, gw Gateway, eng *grouping.Engine, log *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	if eng == nil {
		eng = grouping.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		gateway:  gw,
		grouping: eng,
		log:      log,
		now:      time.Now,
	}
}

// OnEvict registers fn to run after a session is closed or expired.
func (m *Manager) OnEvict(fn func(id string)) {
	m.onEvict = fn
}

// Create opens a new session, performs the initial fetch and returns it with
// its signed token.
func (m *Manager) Create(ctx context.Context) (*Session, string, error) {
	id := uuid.NewString()
	s := New(id, m.gateway, Options{
		Grouping:  m.grouping,
		NoticeTTL: m.cfg.NoticeTTL,
		Logger:    m.log,
		Now:       m.now,
	})
	s.Open(ctx)

	token, err := m.issueToken(id)
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.log.Info("session created", zap.String("session", id))
	return s, token, nil
}

// Resolve verifies a token and returns its live session.
func (m *Manager) Resolve(token string) (*Session, error) {
	id, err := m.parseToken(token)
	if err != nil {
		return nil, err
	}
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.Touch()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close ends a session.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.log.Info("session closed", zap.String("session", id))
		m.evicted(id)
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.TTL)
	var expired []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.evicted(id)
	}
	if len(expired) > 0 {
		m.log.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

func (m *Manager) evicted(id string) {
	if m.onEvict != nil {
		m.onEvict(id)
	}
}

// Start runs the idle sweeper until Stop.
func (m *Manager) Start() {
	m.done = make(chan struct{})
	m.ticker = time.NewTicker(m.cfg.SweepInterval)
	m.wg.Add(1)
	go m.run(m.ticker, m.done)
	m.log.Info("session sweeper started", zap.Duration("interval", m.cfg.SweepInterval), zap.Duration("ttl", m.cfg.TTL))
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.wg.Wait()
}

func (m *Manager) run(ticker *time.Ticker, done <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) issueToken(id string) (string, error) {
	now := m.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:       id,
		Subject:  id,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
