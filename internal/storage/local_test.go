package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArchive_SaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	a := NewLocalArchive(base)

	key, err := a.Save(ctx, "sess", "up1", "../../etc/template.json", strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Equal(t, "sess/up1/template.json", key)

	rc, err := a.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(body))

	require.NoError(t, a.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(base, "sess", "up1"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, a.Delete(ctx, key), "deleting twice is fine")
}

func TestLocalArchive_DeleteSession(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	a := NewLocalArchive(base)

	_, err := a.Save(ctx, "sess", "up1", "a.json", strings.NewReader(`[]`))
	require.NoError(t, err)
	_, err = a.Save(ctx, "sess", "up2", "b.json", strings.NewReader(`[]`))
	require.NoError(t, err)

	require.NoError(t, a.DeleteSession(ctx, "sess"))
	_, err = os.Stat(filepath.Join(base, "sess"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalArchive_RejectsEscapingKeys(t *testing.T) {
	a := NewLocalArchive(t.TempDir())
	for _, key := range []string{"../x", "/etc/passwd", "", "."} {
		_, err := a.Open(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
