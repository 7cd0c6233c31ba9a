package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// FileLocker serialises renders of a project on a single host with advisory
// file locks. It is used when no Redis is configured; the ttl is ignored
// because the lock dies with the process.
type FileLocker struct {
	dir string
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) lockPath(projectID uuid.UUID) string {
	return filepath.Join(l.dir, "render-"+projectID.String()+".lock")
}

func (l *FileLocker) Acquire(ctx context.Context, projectID uuid.UUID, _ time.Duration) (func(), error) {
	fl := flock.New(l.lockPath(projectID))

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire render lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := fl.Unlock(); err != nil {
				log.Printf("[Cache] Failed to release file lock %s: %v", fl.Path(), err)
			}
		})
	}, nil
}
