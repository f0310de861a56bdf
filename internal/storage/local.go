package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid archive key")

// LocalArchive stores uploads under basePath/<session>/<upload>/<file>.
type LocalArchive struct {
	basePath string
}

func NewLocalArchive(basePath string) *LocalArchive {
	return &LocalArchive{basePath: basePath}
}

func (a *LocalArchive) Save(_ context.Context, sessionID, uploadID, filename string, r io.Reader) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "upload.json"
	}
	key := filepath.ToSlash(filepath.Join(sessionID, uploadID, name))
	path, err := a.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return key, nil
}

func (a *LocalArchive) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := a.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (a *LocalArchive) Delete(_ context.Context, key string) error {
	path, err := a.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// upload dir is removed when it becomes empty
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (a *LocalArchive) DeleteSession(_ context.Context, sessionID string) error {
	path, err := a.resolve(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove session uploads: %w", err)
	}
	return nil
}

// resolve maps a key to a path inside basePath, rejecting escapes.
func (a *LocalArchive) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(a.basePath, clean), nil
}
