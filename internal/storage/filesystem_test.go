package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePut(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "http://localhost:8080/static/")
	require.NoError(t, err)

	u, err := s.Put(context.Background(), "user 1/123-s1.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/static/user%201/123-s1.png", u)

	data, err := os.ReadFile(filepath.Join(dir, "user 1", "123-s1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestFileStoreKeysStayInsideBase(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "blobs"), "/static")
	require.NoError(t, err)

	u, err := s.Put(context.Background(), "../../escape.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/static/escape.png", u)
	assert.FileExists(t, filepath.Join(dir, "blobs", "escape.png"))
	assert.NoFileExists(t, filepath.Join(dir, "escape.png"))

	_, err = s.Put(context.Background(), "  ", []byte("x"), "image/png")
	assert.Error(t, err)
}

func TestFileStoreHandler(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "/static")
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "u/a.png", []byte("hello"), "image/png")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	http.StripPrefix("/static", s.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/u/a.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}
