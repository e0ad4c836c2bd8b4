package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const lockRetryDelay = 10 * time.Millisecond

// FileKV stores each key in its own file under dir. Writes go through a
// temp file and rename so a crash never leaves a half written value.
// Compare-and-swap holds an OS lock on <key>.lock, so processes sharing dir
// see each other's writes.
type FileKV struct {
	mu  sync.Mutex
	dir string
}

// NewFileKV creates dir if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *FileKV) lockPath(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".lock")
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(key)
}

func (f *FileKV) read(key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (f *FileKV) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lock := flock.New(f.lockPath(key))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return false, fmt.Errorf("lock %s: not acquired", key)
	}
	defer lock.Unlock() //nolint:errcheck

	cur, err := f.read(key)
	exists := true
	if errors.Is(err, ErrKeyNotFound) {
		exists = false
	} else if err != nil {
		return false, err
	}
	if !matches(cur, exists, prev) {
		return false, nil
	}
	if err := atomic.WriteFile(f.path(key), bytes.NewReader(next)); err != nil {
		return false, fmt.Errorf("write %s: %w", key, err)
	}
	return true, nil
}

// Ping checks the store directory still exists.
func (f *FileKV) Ping(context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.dir)
	}
	return nil
}

func (f *FileKV) Close() error { return nil }
