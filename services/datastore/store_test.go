package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "data"), "", zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestStore_UploadDownload(t *testing.T) {
	s := newTestStore(t)

	name, err := s.Upload("reports/q1.csv", []byte("a,b\n1,2\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "reports/q1.csv", name)

	content, err := s.Download("reports/q1.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(content))

	info, err := os.Stat(filepath.Join(s.Root(), "reports", "q1.csv"))
	require.NoError(t, err)
	assert.Equal(t, fileMode, info.Mode().Perm())
}

func TestStore_UploadRefusesExistingFile(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upload("model.bin", []byte("v1"), false)
	require.NoError(t, err)

	_, err = s.Upload("model.bin", []byte("v2"), false)
	assert.ErrorIs(t, err, services.ErrFileExists)
	content, _ := s.Download("model.bin")
	assert.Equal(t, "v1", string(content))

	_, err = s.Upload("model.bin", []byte("v2"), true)
	require.NoError(t, err)
	content, _ = s.Download("model.bin")
	assert.Equal(t, "v2", string(content))
}

func TestStore_PathsAreConfined(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"../escape.txt", "a/../../escape.txt", "..", "a\x00b"} {
		_, err := s.Upload(name, []byte("x"), true)
		assert.ErrorIs(t, err, services.ErrInvalidPath, name)

		_, err = s.Download(name)
		assert.ErrorIs(t, err, services.ErrInvalidPath, name)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.List("../")
	assert.ErrorIs(t, err, services.ErrInvalidPath)
}

func TestStore_AcceptsRootPrefixAndLeadingSlash(t *testing.T) {
	s := newTestStore(t)

	name, err := s.Upload("/notes.txt", []byte("hi"), false)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)

	content, err := s.Download(filepath.Join(s.Root(), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
}

func TestStore_EmptyNameAndDirectories(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upload("  ", []byte("x"), false)
	assert.ErrorIs(t, err, services.ErrInvalidPath)

	_, err = s.Upload("sub/file.txt", []byte("x"), false)
	require.NoError(t, err)

	_, err = s.Upload("sub", []byte("x"), true)
	assert.ErrorIs(t, err, services.ErrInvalidPath)

	_, err = s.Download("sub")
	assert.ErrorIs(t, err, services.ErrFileNotFound)

	_, err = s.Download("missing.txt")
	assert.ErrorIs(t, err, services.ErrFileNotFound)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"b.txt", "a.txt", "nested/c.txt"} {
		_, err := s.Upload(name, []byte(name), false)
		require.NoError(t, err)
	}

	names, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "nested/"}, names)

	names, err = s.List("/nested")
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt"}, names)

	_, err = s.List("nowhere")
	assert.ErrorIs(t, err, services.ErrFileNotFound)

	_, err = s.List("a.txt")
	assert.ErrorIs(t, err, services.ErrFileNotFound)
}

func TestNewStore_UnknownGroup(t *testing.T) {
	_, err := NewStore(t.TempDir(), "no-such-group-for-tests", zap.NewNop())
	assert.Error(t, err)
}
