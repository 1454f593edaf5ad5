// Package store persists listings as one folder per listing under a
// downloads root: metadata.json (the record), description.txt (a
// plain-text mirror) and images/ (binary files).
package store

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/identity"
	"github.com/micheldegeofroy/unidown/pkg/listing"
)

const (
	metadataFile    = "metadata.json"
	descriptionFile = "description.txt"
	imagesDir       = "images"
	backupSuffix    = ".backup"
)

// Repository is the listing aggregate-root interface. The merge, dedup
// and unify engines are written against it so they can be tested with
// the in-memory fake.
type Repository interface {
	Load(id string) (*listing.Stored, error)
	Save(l *listing.Stored) error
	Delete(id string) error
	List() ([]*listing.Stored, error)
	FindBySourceURL(normalizedURL string) (*listing.Stored, error)
}

// Store is the filesystem-backed Repository. An optional Index keeps a
// sqlite mapping for O(1) repeat-scrape lookups; the folder tree stays
// the unit of truth.
type Store struct {
	root  string
	log   *logrus.Logger
	index *Index
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads root: %w", err)
	}
	return &Store{root: dir, log: log}, nil
}

// WithIndex attaches the sqlite index to the store.
func (s *Store) WithIndex(idx *Index) *Store {
	s.index = idx
	return s
}

// Root returns the downloads root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the folder for a listing id.
func (s *Store) Dir(id string) string { return filepath.Join(s.root, id) }

// ImagesDir returns the images subdirectory for a listing id.
func (s *Store) ImagesDir(id string) string { return filepath.Join(s.root, id, imagesDir) }

// NewID derives a stable folder name for a new listing from its
// platform and normalized source URL.
func NewID(platform listing.Platform, normalizedURL string) string {
	sum := sha1.Sum([]byte(normalizedURL))
	return string(platform) + "_" + hex.EncodeToString(sum[:])[:12]
}

// NewUnifiedID allocates a folder name for a freshly unified listing.
// The timestamp keeps folders sortable by creation time; the random
// suffix keeps two unifications in the same millisecond distinct.
func NewUnifiedID(now time.Time) string {
	return fmt.Sprintf("unified_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Load reads a listing's metadata.json. Returns listing.ErrNotFound for
// a missing folder.
func (s *Store) Load(id string) (*listing.Stored, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(id), metadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", id, listing.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	var l listing.Stored
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if l.ID == "" {
		l.ID = id
	}
	return &l, nil
}

// Save writes metadata.json atomically (temp file, then rename) and
// mirrors the description into description.txt. A failed write never
// leaves a half-written metadata.json behind.
func (s *Store) Save(l *listing.Stored) error {
	if l.ID == "" {
		return fmt.Errorf("save: %w: empty listing id", listing.ErrInvalidInput)
	}
	dir := s.Dir(l.ID)
	if err := os.MkdirAll(filepath.Join(dir, imagesDir), 0o755); err != nil {
		return fmt.Errorf("save %s: %w: %v", l.ID, listing.ErrPersistenceFailure, err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("save %s: %w: %v", l.ID, listing.ErrPersistenceFailure, err)
	}

	target := filepath.Join(dir, metadataFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w: %v", l.ID, listing.ErrPersistenceFailure, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save %s: %w: %v", l.ID, listing.ErrPersistenceFailure, err)
	}

	// The description mirror is best-effort; metadata.json already holds
	// the authoritative copy.
	if err := os.WriteFile(filepath.Join(dir, descriptionFile), []byte(l.Description), 0o644); err != nil {
		s.log.Warnf("Could not write description mirror for %s: %v", l.ID, err)
	}

	if s.index != nil {
		if err := s.index.Upsert(l.ID, identity.Normalize(l.SourceURL), string(l.Platform)); err != nil {
			s.log.Warnf("Could not update index for %s: %v", l.ID, err)
		}
	}
	return nil
}

// Backup copies metadata.json aside before a risky mutation. Returns
// the backup path.
func (s *Store) Backup(id string) (string, error) {
	src := filepath.Join(s.Dir(id), metadataFile)
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("backup %s: %w", id, listing.ErrNotFound)
		}
		return "", fmt.Errorf("backup %s: %w", id, err)
	}
	dst := src + backupSuffix
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("backup %s: %w", id, err)
	}
	return dst, nil
}

// Restore replaces metadata.json with the backup taken by Backup and
// removes the backup file.
func (s *Store) Restore(id string) error {
	dir := s.Dir(id)
	backup := filepath.Join(dir, metadataFile+backupSuffix)
	if err := os.Rename(backup, filepath.Join(dir, metadataFile)); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	return nil
}

// DiscardBackup removes a backup once the mutation has committed.
func (s *Store) DiscardBackup(id string) {
	_ = os.Remove(filepath.Join(s.Dir(id), metadataFile+backupSuffix))
}

// Delete removes a listing folder and its index entry.
func (s *Store) Delete(id string) error {
	dir := s.Dir(id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, listing.ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if s.index != nil {
		if err := s.index.Remove(id); err != nil {
			s.log.Warnf("Could not remove %s from index: %v", id, err)
		}
	}
	return nil
}

// List scans every listing folder. A record under concurrent mutation
// may be torn mid-write; such folders are skipped with a warning
// instead of failing the whole scan.
func (s *Store) List() ([]*listing.Stored, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	var out []*listing.Stored
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		l, err := s.Load(e.Name())
		if err != nil {
			if errors.Is(err, listing.ErrNotFound) {
				continue
			}
			s.log.Warnf("Skipping unreadable listing %s: %v", e.Name(), err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// FindBySourceURL resolves a normalized source URL to its stored
// listing, via the index when available, otherwise by scanning.
func (s *Store) FindBySourceURL(normalizedURL string) (*listing.Stored, error) {
	if normalizedURL == "" {
		return nil, fmt.Errorf("find by url: %w", listing.ErrNotFound)
	}
	if s.index != nil {
		if id, ok, err := s.index.Lookup(normalizedURL); err == nil && ok {
			l, err := s.Load(id)
			if err == nil {
				return l, nil
			}
			// Index can point at a folder deleted out-of-band; fall
			// through to the scan and let Rebuild repair it later.
			s.log.Debugf("Index entry for %s is dangling: %v", normalizedURL, err)
		}
	}
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, l := range all {
		if identity.Normalize(l.SourceURL) == normalizedURL {
			return l, nil
		}
	}
	return nil, fmt.Errorf("find %s: %w", normalizedURL, listing.ErrNotFound)
}

// RebuildIndex repopulates the sqlite index from the folder tree.
func (s *Store) RebuildIndex() error {
	if s.index == nil {
		return nil
	}
	all, err := s.List()
	if err != nil {
		return err
	}
	return s.index.Rebuild(all)
}
