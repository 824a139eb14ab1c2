package lock

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

const retryDelay = 50 * time.Millisecond

var _ ports.Locker = (*FileLocker)(nil)

// FileLocker takes advisory OS file locks under one directory. Every process
// pointed at the same directory contends for the same locks.
type FileLocker struct {
	dir string
}

// NewFileLocker creates dir if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

// Lock polls for the named lock until it is free or ctx is done.
func (l *FileLocker) Lock(ctx context.Context, name string) (func() error, error) {
	fl := flock.New(l.path(name))
	ok, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", name, domain.ErrBusy)
	}
	return fl.Unlock, nil
}

func (l *FileLocker) TryLock(name string) (func() error, error) {
	fl := flock.New(l.path(name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", name, domain.ErrBusy)
	}
	return fl.Unlock, nil
}

func (l *FileLocker) path(name string) string {
	return filepath.Join(l.dir, fileName(name)+".lock")
}

// fileName keeps plain names readable and hex-encodes anything else.
func fileName(name string) string {
	for _, r := range name {
		plain := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !plain {
			return "=" + hex.EncodeToString([]byte(name))
		}
	}
	if name == "" {
		return "="
	}
	return name
}
