package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const metaSuffix = ".meta.json"

// LocalStorage implements Store on the local filesystem. Each container is a
// directory under basePath; metadata lives in a sidecar file next to the object.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

func (l *LocalStorage) path(loc Location) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, loc.Container, filepath.FromSlash(loc.Key)), nil
}

// Put saves a file to local storage
func (l *LocalStorage) Put(ctx context.Context, loc Location, data []byte, meta map[string]string) (Location, error) {
	path, err := l.path(loc)
	if err != nil {
		return Location{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Location{}, fmt.Errorf("creating container directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Location{}, fmt.Errorf("writing file: %w", err)
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return Location{}, fmt.Errorf("marshaling metadata: %w", err)
		}
		if err := os.WriteFile(path+metaSuffix, b, 0644); err != nil {
			return Location{}, fmt.Errorf("writing metadata: %w", err)
		}
	}
	return loc, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(ctx context.Context, loc Location) ([]byte, error) {
	path, err := l.path(loc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading file %s: %w", loc, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Metadata returns the metadata stored alongside an object, if any
func (l *LocalStorage) Metadata(loc Location) (map[string]string, error) {
	path, err := l.path(loc)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	meta := map[string]string{}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return meta, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(ctx context.Context, loc Location) (bool, error) {
	path, err := l.path(loc)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("deleting file: %w", err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, fmt.Errorf("deleting metadata: %w", err)
	}
	return true, nil
}
