// Package storage implements the storage server: authoritative file
// content under a root directory, sentence-level locks, single-slot undo,
// checkpoints, and best-effort replication to one partner.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	metaSuffix    = ".meta"
	checkpointDir = ".checkpoints"
)

var errBadPath = errors.New("invalid path")

// Store is the filesystem layer. Filenames are slash-separated relative
// paths; every public method sanitizes before touching the disk.
type Store struct {
	root string
}

// NewStore opens (creating if needed) the storage root.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// sanitizeName validates a client-supplied path. Absolute paths and paths
// escaping the root via ".." are rejected, as are names colliding with the
// metadata sidecars and the checkpoint tree.
func sanitizeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", errBadPath)
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", errBadPath, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", errBadPath, name)
	}
	if clean == checkpointDir || strings.HasPrefix(clean, checkpointDir+"/") {
		return "", fmt.Errorf("%w: %q is reserved", errBadPath, name)
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", fmt.Errorf("%w: %q is reserved", errBadPath, name)
	}
	return clean, nil
}

// sanitizeTag validates a checkpoint tag: one path segment, no separators.
func sanitizeTag(tag string) (string, error) {
	if tag == "" || strings.ContainsAny(tag, "/\\") || tag == "." || tag == ".." {
		return "", fmt.Errorf("%w: bad checkpoint tag %q", errBadPath, tag)
	}
	return tag, nil
}

func (s *Store) filePath(clean string) string {
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

// Exists reports whether the named file is present as a regular file.
func (s *Store) Exists(name string) bool {
	clean, err := sanitizeName(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(s.filePath(clean))
	return err == nil && info.Mode().IsRegular()
}

// Create writes an empty file plus its creation-time sidecar, creating
// intermediate folders on demand. Fails with fs.ErrExist when present.
func (s *Store) Create(name string) error {
	clean, err := sanitizeName(name)
	if err != nil {
		return err
	}
	target := s.filePath(clean)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent folders: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	f.Close()
	meta := "created:" + strconv.FormatInt(time.Now().Unix(), 10) + "\n"
	if err := os.WriteFile(target+metaSuffix, []byte(meta), 0644); err != nil {
		return fmt.Errorf("write meta sidecar: %w", err)
	}
	return nil
}

// Read returns the file content. fs.ErrNotExist passes through.
func (s *Store) Read(name string) (string, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.filePath(clean))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Save replaces the file content atomically: write a temp file in the same
// directory, then rename over the target.
func (s *Store) Save(name, content string) error {
	clean, err := sanitizeName(name)
	if err != nil {
		return err
	}
	target := s.filePath(clean)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent folders: %w", err)
	}
	return atomicWrite(target, content)
}

func atomicWrite(target, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit temp file: %w", err)
	}
	return nil
}

// Delete removes the file and its sidecar. The sidecar removal is
// best-effort.
func (s *Store) Delete(name string) error {
	clean, err := sanitizeName(name)
	if err != nil {
		return err
	}
	target := s.filePath(clean)
	if err := os.Remove(target); err != nil {
		return err
	}
	_ = os.Remove(target + metaSuffix)
	return nil
}

// Rename moves the file and its sidecar to newName, creating destination
// folders on demand.
func (s *Store) Rename(oldName, newName string) error {
	oldClean, err := sanitizeName(oldName)
	if err != nil {
		return err
	}
	newClean, err := sanitizeName(newName)
	if err != nil {
		return err
	}
	from, to := s.filePath(oldClean), s.filePath(newClean)
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("create destination folders: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return err
	}
	_ = os.Rename(from+metaSuffix, to+metaSuffix)
	return nil
}

// Mkdir creates a folder (and parents) under the root.
func (s *Store) Mkdir(folder string) error {
	clean, err := sanitizeName(folder)
	if err != nil {
		return err
	}
	return os.MkdirAll(s.filePath(clean), 0755)
}

func (s *Store) checkpointPath(clean, tag string) string {
	return filepath.Join(s.root, checkpointDir, filepath.FromSlash(clean), tag)
}

// SaveCheckpoint snapshots content under the file's checkpoint directory.
func (s *Store) SaveCheckpoint(name, tag, content string) error {
	clean, err := sanitizeName(name)
	if err != nil {
		return err
	}
	cleanTag, err := sanitizeTag(tag)
	if err != nil {
		return err
	}
	target := s.checkpointPath(clean, cleanTag)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create checkpoint folders: %w", err)
	}
	return atomicWrite(target, content)
}

// ReadCheckpoint returns a snapshot's content. fs.ErrNotExist passes
// through.
func (s *Store) ReadCheckpoint(name, tag string) (string, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	cleanTag, err := sanitizeTag(tag)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.checkpointPath(clean, cleanTag))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ListCheckpoints enumerates the tags saved for a file, sorted by name.
func (s *Store) ListCheckpoints(name string) ([]string, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, checkpointDir, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			tags = append(tags, e.Name())
		}
	}
	return tags, nil
}

// ScanFiles walks the root and returns every stored filename as a
// slash-separated relative path, skipping sidecars, the checkpoint tree,
// and non-regular entries.
func (s *Store) ScanFiles() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == checkpointDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(rel, metaSuffix) {
			return nil
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan storage root: %w", err)
	}
	return names, nil
}
