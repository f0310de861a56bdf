package configsvc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"fieldconfig-backend/internal/config"
)

// ErrUpstream marks a failure to obtain the upstream metadata document.
var ErrUpstream = errors.New("upstream metadata unavailable")

// Source yields the raw upstream metadata document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// NewSource picks the file source when a metadata file is configured and
// the HTTP catalog otherwise. It returns nil when neither is set.
func NewSource(cfg config.UpstreamConfig, log *zap.Logger) (Source, error) {
	switch {
	case cfg.MetadataFile != "":
		return NewFileSource(cfg.MetadataFile, log)
	case cfg.MetadataURL != "":
		return NewHTTPSource(cfg), nil
	default:
		return nil, nil
	}
}

// HTTPSource reads the metadata catalog over HTTP with basic auth.
type HTTPSource struct {
	url      string
	username string
	password string
	client   *http.Client
}

func NewHTTPSource(cfg config.UpstreamConfig) *HTTPSource {
	url := strings.TrimRight(cfg.MetadataURL, "/")
	if !strings.Contains(url, "metadata-catalog") {
		url += "/metadata-catalog/items"
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed test instances
	}
	return &HTTPSource{
		url:      url,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
	}
	return body, nil
}

// FileSource serves a metadata document from disk, reloading it when the
// file changes while Watch runs.
type FileSource struct {
	path string
	log  *zap.Logger

	mu   sync.RWMutex
	data []byte
	err  error
}

func NewFileSource(path string, log *zap.Logger) (*FileSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve metadata file: %w", err)
	}
	s := &FileSource{path: abs, log: log}
	s.reload()
	return s, nil
}

func (s *FileSource) Fetch(context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(nil), s.data...), nil
}

func (s *FileSource) reload() {
	data, err := os.ReadFile(s.path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrUpstream, err)
		s.log.Warn("metadata file unreadable", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.data, s.err = data, nil
	s.log.Info("metadata file loaded", zap.String("path", s.path), zap.Int("bytes", len(data)))
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file are picked up.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case <-fire:
			fire = nil
			s.reload()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(100 * time.Millisecond)
			} else {
				debounce.Reset(100 * time.Millisecond)
			}
			fire = debounce.C

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("metadata watcher", zap.Error(werr))
		}
	}
}
