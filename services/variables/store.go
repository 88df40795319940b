// Package variables persists small per-user JSON values.
package variables

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/upb/model-control-plane/internal/fsutil"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

// FileName is the store file inside the variable store directory
const FileName = "variable_store.json"

// Store maps username to variable name to a raw JSON value. All access goes through
// one mutex and every change rewrites the file atomically.
type Store struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	data map[string]map[string]json.RawMessage
}

// Open loads the store from dir, starting empty when the file does not exist yet
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create variable store directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dir, FileName),
		logger: logger,
		data:   make(map[string]map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read variable store: %w", err)
	case len(raw) == 0:
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse variable store %s: %w", s.path, err)
	}
	if s.data == nil {
		s.data = make(map[string]map[string]json.RawMessage)
	}
	return s, nil
}

// Get returns the value of name for username
func (s *Store) Get(username, name string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[username][name]
	if !ok {
		return nil, services.ErrVariableNotFound.WithDetail("variable_name", name)
	}
	return slices.Clone(v), nil
}

// List returns the sorted variable names of username
func (s *Store) List(username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.data[username]))
}

// Set stores value under name. An existing variable is only replaced when overwrite is set.
func (s *Store) Set(username, name string, value json.RawMessage, overwrite bool) error {
	if !json.Valid(value) {
		return services.ErrInvalidInput.WithMessage("value must be valid JSON")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vars := s.data[username]
	prev, exists := vars[name]
	if exists && !overwrite {
		return services.ErrVariableExists.WithDetail("variable_name", name)
	}

	if vars == nil {
		vars = make(map[string]json.RawMessage)
		s.data[username] = vars
	}
	vars[name] = slices.Clone(value)

	if err := s.flush(); err != nil {
		if exists {
			vars[name] = prev
		} else {
			delete(vars, name)
			if len(vars) == 0 {
				delete(s.data, username)
			}
		}
		return err
	}
	return nil
}

// Delete removes name for username
func (s *Store) Delete(username, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := s.data[username]
	prev, ok := vars[name]
	if !ok {
		return services.ErrVariableNotFound.WithDetail("variable_name", name)
	}

	delete(vars, name)
	if len(vars) == 0 {
		delete(s.data, username)
	}
	if err := s.flush(); err != nil {
		if s.data[username] == nil {
			s.data[username] = vars
		}
		vars[name] = prev
		return err
	}
	return nil
}

// flush must be called with mu held
func (s *Store) flush() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return services.WrapInternal("failed to encode variable store", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, raw, 0o640); err != nil {
		s.logger.Error("failed to write variable store", zap.String("path", s.path), zap.Error(err))
		return services.WrapInternal("failed to write variable store", err)
	}
	return nil
}
