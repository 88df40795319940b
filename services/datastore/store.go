// Package datastore keeps uploaded data files under a single root directory.
package datastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/upb/model-control-plane/internal/fsutil"
	"github.com/upb/model-control-plane/internal/keylock"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

const (
	dirMode  fs.FileMode = 0o770
	fileMode fs.FileMode = 0o660
)

// Store reads and writes files confined to root
type Store struct {
	root   string
	gid    int
	locks  *keylock.Locker[string]
	logger *zap.Logger
}

// NewStore creates root if needed. When group is set, every file and directory the
// store creates is handed to that group.
func NewStore(root, group string, logger *zap.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	gid := -1
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return nil, fmt.Errorf("failed to look up data group %q: %w", group, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return nil, fmt.Errorf("data group %q has non-numeric gid %q", group, g.Gid)
		}
	}

	return &Store{root: abs, gid: gid, locks: keylock.New[string](), logger: logger}, nil
}

// Root returns the absolute data directory
func (s *Store) Root() string {
	return s.root
}

// Upload writes content to name. An existing file is only replaced when overwrite is set.
// It returns the stored name relative to the data directory.
func (s *Store) Upload(name string, content []byte, overwrite bool) (string, error) {
	rel, err := s.clean(name)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", services.ErrInvalidPath.WithMessage("filename is required")
	}
	path := filepath.Join(s.root, rel)

	unlock := s.locks.Lock(rel)
	defer unlock()

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return "", services.ErrInvalidPath.WithMessage("%s is a directory", filepath.ToSlash(rel))
	case err == nil && !overwrite:
		return "", services.ErrFileExists.WithDetail("filename", filepath.ToSlash(rel))
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", services.WrapInternal("failed to stat data file", err)
	}

	if err := s.mkdirs(filepath.Dir(rel)); err != nil {
		return "", err
	}
	if err := fsutil.WriteFileAtomic(path, content, fileMode); err != nil {
		return "", services.WrapInternal("failed to write data file", err)
	}
	if err := s.chown(path); err != nil {
		return "", err
	}

	s.logger.Info("data file stored",
		zap.String("filename", filepath.ToSlash(rel)),
		zap.Int("bytes", len(content)),
		zap.Bool("overwrite", overwrite))
	return filepath.ToSlash(rel), nil
}

// Download returns the content of name
func (s *Store) Download(name string) ([]byte, error) {
	rel, err := s.clean(name)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, services.ErrInvalidPath.WithMessage("filename is required")
	}

	content, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.ErrFileNotFound.WithDetail("filename", filepath.ToSlash(rel))
		}
		// reading a directory reports EISDIR, which is not a not-exist error
		if info, statErr := os.Stat(filepath.Join(s.root, rel)); statErr == nil && info.IsDir() {
			return nil, services.ErrFileNotFound.WithMessage("%s is a directory", filepath.ToSlash(rel))
		}
		return nil, services.WrapInternal("failed to read data file", err)
	}
	return content, nil
}

// List returns the sorted entry names of dir, the data directory itself when empty.
// Directories carry a trailing slash.
func (s *Store) List(dir string) ([]string, error) {
	rel, err := s.clean(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.ErrFileNotFound.WithMessage("directory %s does not exist", filepath.ToSlash(rel))
		}
		return nil, services.ErrFileNotFound.WithMessage("%s is not a directory", filepath.ToSlash(rel)).Wrap(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// clean maps a client supplied name onto a path relative to root. Names may repeat the
// data directory prefix and may start with a slash; they may not climb out of root.
func (s *Store) clean(name string) (string, error) {
	name = strings.TrimSpace(name)
	if strings.ContainsRune(name, 0) {
		return "", services.ErrInvalidPath
	}
	name = filepath.FromSlash(name)
	if rest, ok := strings.CutPrefix(name, s.root); ok && (rest == "" || os.IsPathSeparator(rest[0])) {
		name = rest
	}
	name = strings.TrimLeft(name, `/\`)
	if name == "" {
		return ".", nil
	}

	rel := filepath.Clean(name)
	if !filepath.IsLocal(rel) {
		return "", services.ErrInvalidPath.WithDetail("filename", filepath.ToSlash(name))
	}
	return rel, nil
}

// mkdirs creates the missing directories of rel one level at a time so each one can be
// handed to the data group
func (s *Store) mkdirs(rel string) error {
	if rel == "." {
		return nil
	}
	path := s.root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		path = filepath.Join(path, part)
		err := os.Mkdir(path, dirMode)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return services.WrapInternal("failed to create data directory", err)
		}
		if err := s.chown(path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) chown(path string) error {
	if s.gid < 0 {
		return nil
	}
	if err := os.Chown(path, -1, s.gid); err != nil {
		return services.WrapInternal("failed to set data group", err)
	}
	return nil
}
