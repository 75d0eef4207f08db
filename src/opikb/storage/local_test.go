package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	b, err := NewLocal(LocalConfig{BasePath: base})
	require.NoError(t, err)

	key := "6.8.0-opi5plus-mali/run-1/Image.xz"
	require.NoError(t, b.Upload(ctx, key, strings.NewReader("kernel"), 6, "application/x-xz"))

	ok, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(base, key))
	require.NoError(t, err)
	assert.Equal(t, "kernel", string(data))

	objs, err := b.List(ctx, "6.8.0-opi5plus-mali/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, key, objs[0].Key)
	assert.Equal(t, int64(6), objs[0].Size)

	require.NoError(t, b.Delete(ctx, key))
	ok, err = b.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoDirExists(t, filepath.Join(base, "6.8.0-opi5plus-mali"))
}

func TestLocalBackendSizeMismatch(t *testing.T) {
	b, err := NewLocal(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	err = b.Upload(context.Background(), "a/b", strings.NewReader("short"), 100, "")
	require.Error(t, err)

	ok, err := b.Exists(context.Background(), "a/b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalBackendKeysStayInside(t *testing.T) {
	base := t.TempDir()
	b, err := NewLocal(LocalConfig{BasePath: base})
	require.NoError(t, err)

	tests := []struct {
		key  string
		want string
	}{
		{"x/y", filepath.Join(base, "x/y")},
		{"/x/y", filepath.Join(base, "x/y")},
		{"../../etc/passwd", filepath.Join(base, "etc/passwd")},
		{"x/../../y", filepath.Join(base, "y")},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, b.fullPath(tt.key))
		})
	}
}
