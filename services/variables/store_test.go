package variables

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

func TestStore_SetGetListDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Set("alice", "threshold", json.RawMessage(`0.7`), false))
	require.NoError(t, s.Set("alice", "columns", json.RawMessage(`["a","b"]`), false))
	require.NoError(t, s.Set("bob", "threshold", json.RawMessage(`0.1`), false))

	v, err := s.Get("alice", "threshold")
	require.NoError(t, err)
	assert.JSONEq(t, `0.7`, string(v))

	assert.Equal(t, []string{"columns", "threshold"}, s.List("alice"))
	assert.Empty(t, s.List("carol"))

	require.NoError(t, s.Delete("alice", "columns"))
	_, err = s.Get("alice", "columns")
	assert.ErrorIs(t, err, services.ErrVariableNotFound)

	err = s.Delete("alice", "columns")
	assert.ErrorIs(t, err, services.ErrVariableNotFound)
}

func TestStore_UsersAreIsolated(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Set("alice", "secret", json.RawMessage(`"a"`), false))
	_, err = s.Get("bob", "secret")
	assert.ErrorIs(t, err, services.ErrVariableNotFound)
}

func TestStore_Overwrite(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Set("alice", "k", json.RawMessage(`1`), false))

	err = s.Set("alice", "k", json.RawMessage(`2`), false)
	assert.ErrorIs(t, err, services.ErrVariableExists)
	v, _ := s.Get("alice", "k")
	assert.Equal(t, "1", string(v))

	require.NoError(t, s.Set("alice", "k", json.RawMessage(`2`), true))
	v, _ = s.Get("alice", "k")
	assert.Equal(t, "2", string(v))
}

func TestStore_RejectsInvalidJSON(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	err = s.Set("alice", "k", json.RawMessage(`{broken`), false)
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Set("alice", "cfg", json.RawMessage(`{"depth":3}`), false))

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"alice":{"cfg":{"depth":3}}}`, string(raw))

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	v, err := reopened.Get("alice", "cfg")
	require.NoError(t, err)
	assert.JSONEq(t, `{"depth":3}`, string(v))
}

func TestOpen_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not json"), 0o600))

	_, err := Open(dir, zap.NewNop())
	assert.Error(t, err)
}

func TestStore_FailedWriteRollsBack(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Set("alice", "kept", json.RawMessage(`1`), false))

	// the temp file is created next to the store file, so a missing directory fails the write
	s.path = filepath.Join(dir, "gone", FileName)

	err = s.Set("alice", "new", json.RawMessage(`2`), false)
	assert.Error(t, err)
	assert.Equal(t, []string{"kept"}, s.List("alice"))

	err = s.Delete("alice", "kept")
	assert.Error(t, err)
	assert.Equal(t, []string{"kept"}, s.List("alice"))
}

func TestStore_ConcurrentSets(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set("alice", fmt.Sprintf("v%02d", i), json.RawMessage(fmt.Sprint(i)), false))
		}()
	}
	wg.Wait()

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, reopened.List("alice"), 20)
}
