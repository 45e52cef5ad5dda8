package tier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/jsonx"
)

// FileStore implements Durable with one JSON file per record:
// <root>/<tier>/<id>.json. Writes go through a temp file and rename.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileStore creates the tier directories under root.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store needs a root directory")
	}
	for _, t := range identity.DurableTiers {
		if err := os.MkdirAll(filepath.Join(root, string(t)), 0o755); err != nil {
			return nil, fmt.Errorf("create tier dir: %w", err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(t identity.Tier, id string) string {
	return filepath.Join(s.root, string(t), id+".json")
}

// Read returns a single record.
func (s *FileStore) Read(_ context.Context, t identity.Tier, id string) (*identity.Identity, error) {
	if err := requireDurable(t); err != nil {
		return nil, err
	}
	if err := identity.ValidateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(t, id))
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", identity.ErrNotFound, t, id)
		}
		return nil, storageFault("read", t, id, err)
	}
	return decodeRecord(t, id, data)
}

// Write replaces the record file atomically.
func (s *FileStore) Write(_ context.Context, rec *identity.Identity) error {
	if err := requireDurable(rec.Tier); err != nil {
		return err
	}
	if err := identity.ValidateID(rec.ID); err != nil {
		return err
	}

	data, err := jsonx.MarshalIndent(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", rec.Tier, rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.path(rec.Tier, rec.ID)
	tmp, err := os.CreateTemp(filepath.Dir(final), "."+rec.ID+".*.tmp")
	if err != nil {
		return storageFault("write", rec.Tier, rec.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return storageFault("write", rec.Tier, rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return storageFault("write", rec.Tier, rec.ID, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return storageFault("write", rec.Tier, rec.ID, err)
	}
	return nil
}

// Delete removes the record file.
func (s *FileStore) Delete(_ context.Context, t identity.Tier, id string) error {
	if err := requireDurable(t); err != nil {
		return err
	}
	if err := identity.ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(t, id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", identity.ErrNotFound, t, id)
		}
		return storageFault("delete", t, id, err)
	}
	return nil
}

// List returns the ids of a tier in ascending order.
func (s *FileStore) List(_ context.Context, t identity.Tier) ([]string, error) {
	if err := requireDurable(t); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries, err := os.ReadDir(filepath.Join(s.root, string(t)))
	s.mu.RUnlock()
	if err != nil {
		return nil, storageFault("list", t, "*", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
