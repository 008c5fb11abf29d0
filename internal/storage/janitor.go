package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const janitorLockName = ".janitor.lock"

// ErrJanitorBusy means another process holds the janitor lock.
var ErrJanitorBusy = fmt.Errorf("staging janitor already running")

// SweepStaging runs CleanStale under an exclusive lock file in the staging
// dir so instances sharing the store never sweep concurrently.
func (s *Store) SweepStaging(ctx context.Context, maxAge time.Duration) (CleanupReport, error) {
	if err := os.MkdirAll(s.StagingDir, 0o755); err != nil {
		return CleanupReport{}, fmt.Errorf("ensure staging dir: %w", err)
	}
	lock := flock.New(filepath.Join(s.StagingDir, janitorLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return CleanupReport{}, fmt.Errorf("acquire janitor lock: %w", err)
	}
	if !locked {
		return CleanupReport{}, ErrJanitorBusy
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.Log.Warn("release janitor lock failed", "error", err)
		}
	}()

	return s.CleanStale(ctx, maxAge), nil
}
