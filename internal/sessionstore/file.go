package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File keeps at most one session in a local JSON file. It is the client-side
// storage of the command line tool.
type File struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

// Save replaces whatever session the file held.
func (f *File) Save(ctx context.Context, r *Record) error {
	if err := validate(r, f.now()); err != nil {
		return err
	}
	data, err := encode(r)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return writeFileAtomic(f.path, data, 0o600)
}

// Load returns the stored session when its ID matches id.
func (f *File) Load(ctx context.Context, id string) (*Record, error) {
	r, err := f.Current(ctx)
	if err != nil {
		return nil, err
	}
	if r.ID != id {
		return nil, ErrNotFound
	}
	return r, nil
}

// Current returns the stored session, whatever its ID.
func (f *File) Current(ctx context.Context) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	r, err := decode(data)
	if err != nil {
		return nil, err
	}
	if r.Expired(f.now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

// Delete removes the file when it holds session id. An empty id always
// clears the file.
func (f *File) Delete(ctx context.Context, id string) error {
	if id != "" {
		r, err := f.Current(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err == nil && r.ID != id {
			return nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (f *File) Ping(ctx context.Context) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o700)
}

func (f *File) Close() error { return nil }

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers never see a partial session.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
