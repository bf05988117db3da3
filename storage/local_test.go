package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)
	return s, dir
}

// TestLocalStorage_PathTraversal_Prevention 测试路径遍历防护
func TestLocalStorage_PathTraversal_Prevention(t *testing.T) {
	storage, _ := newTestLocal(t)
	ctx := context.Background()

	traversalAttempts := []string{
		"../../../etc/passwd",
		"..\\..\\..\\windows\\system32\\config\\sam",
		"../../.env",
		"../config.yaml",
		"..",
		".",
		"",
		"/etc/passwd",
		"folder/../../../etc/passwd",
		"test/../../test.txt",
	}

	for _, attempt := range traversalAttempts {
		t.Run("put_"+attempt, func(t *testing.T) {
			_, err := storage.Put(ctx, attempt, []byte("x"), "text/plain")
			require.Error(t, err, "Path traversal attempt should be rejected: %s", attempt)
			assert.Contains(t, err.Error(), "invalid")
		})
	}

	_, err := storage.Get(ctx, "../../../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, storage.Delete(ctx, "../../../etc/passwd"))
}

func TestLocalStorage_PutGetRoundTrip(t *testing.T) {
	storage, dir := newTestLocal(t)
	ctx := context.Background()

	res, err := storage.Put(ctx, "2026/01/abc.png", []byte("0123456789"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "2026/01/abc.png", res.Path)
	assert.Empty(t, res.URL)

	_, err = os.Stat(filepath.Join(dir, "2026", "01", "abc.png"))
	require.NoError(t, err)

	obj, err := storage.Get(ctx, "2026/01/abc.png")
	require.NoError(t, err)
	defer obj.Reader.Close()
	data, err := io.ReadAll(obj.Reader)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, int64(10), obj.Size)

	exists, err := storage.Exists(ctx, "2026/01/abc.png")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, _ := newTestLocal(t)

	_, err := storage.Get(context.Background(), "2026/01/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.Get(context.Background(), "2026")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestLocalStorage_IdempotentDelete 删除不存在的对象视为成功
func TestLocalStorage_IdempotentDelete(t *testing.T) {
	storage, _ := newTestLocal(t)
	ctx := context.Background()

	assert.NoError(t, storage.Delete(ctx, "never/existed.png"))

	_, err := storage.Put(ctx, "a.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.NoError(t, storage.Delete(ctx, "a.png"))
	assert.NoError(t, storage.Delete(ctx, "a.png"))

	exists, err := storage.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_CancelledPut(t *testing.T) {
	storage, _ := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.Put(ctx, "a.png", []byte("x"), "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_Walk(t *testing.T) {
	storage, dir := newTestLocal(t)
	ctx := context.Background()

	for _, p := range []string{"2026/01/a.png", "2026/02/b.png", "c.png"} {
		_, err := storage.Put(ctx, p, []byte("x"), "image/png")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644))

	var seen []string
	err := storage.Walk(ctx, func(p string, modTime time.Time) error {
		assert.False(t, modTime.IsZero())
		seen = append(seen, p)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2026/01/a.png", "2026/02/b.png", "c.png"}, seen)
}

// TestIsValidStoragePath 测试存储路径验证函数
func TestIsValidStoragePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantValid bool
	}{
		{"simple", "file.txt", true},
		{"nested", "2026/01/abc_1_def.png", true},
		{"empty", "", false},
		{"dotdot", "..", false},
		{"absolute_unix", "/etc/passwd", false},
		{"absolute_windows", "C:\\file.txt", false},
		{"traversal", "../file.txt", false},
		{"null_byte", "file\x00.txt", false},
		{"newline", "file\n.txt", false},
		{"shell", "file;rm -rf .txt", false},
		{"space", "my file.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantValid, IsValidStoragePath(tt.path), "path: %q", tt.path)
		})
	}
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "", publicURL("", "a.png"))
	assert.Equal(t, "https://cdn.example.com/uploads/a.png", publicURL("cdn.example.com/", "uploads/a.png"))
	assert.Equal(t, "http://cdn.example.com/a.png", publicURL("http://cdn.example.com", "/a.png"))
	assert.Equal(t, "uploads/a.png", joinKey("/uploads/", "/a.png"))
	assert.Equal(t, "a.png", joinKey("", "a.png"))
}

func TestBytesObject(t *testing.T) {
	obj := bytesObject([]byte("hello"), "text/plain")
	data, err := io.ReadAll(obj.Reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), obj.Size)
	assert.True(t, strings.HasPrefix(obj.ContentType, "text/"))
}

func TestInstrument_PreservesListerAndNotFound(t *testing.T) {
	local, _ := newTestLocal(t)
	p := Instrument(local)

	assert.Same(t, p, Instrument(p))
	_, ok := AsLister(p)
	assert.True(t, ok)

	_, err := p.Get(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "local", p.Type())
}

func TestLocalStorage_Location(t *testing.T) {
	a, dir := newTestLocal(t)
	b, err := NewLocalStorage(dir + string(os.PathSeparator) + ".")
	require.NoError(t, err)
	nested, err := NewLocalStorage(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	sibling, err := NewLocalStorage(dir + "-sibling")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir + "-sibling") })

	assert.True(t, strings.HasPrefix(a.Location(), "file://"))
	assert.True(t, strings.HasSuffix(a.Location(), "/"))
	assert.Equal(t, a.Location(), b.Location())

	assert.True(t, LocationsOverlap(a.Location(), b.Location()))
	assert.True(t, LocationsOverlap(a.Location(), nested.Location()))
	assert.True(t, LocationsOverlap(nested.Location(), a.Location()))
	assert.False(t, LocationsOverlap(a.Location(), sibling.Location()))
	assert.False(t, LocationsOverlap(a.Location(), ""))
}
