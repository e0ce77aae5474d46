package summary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcliao/chat-summary/internal/log"
)

// ErrBusy is returned when another summary operation holds the guard.
var ErrBusy = errors.New("summary: another operation is in progress, try again")

// Guard is a single-slot, non-blocking lock. The zero value guards one process.
// A Guard from NewFileGuard also holds a lock file, so separate processes
// sharing the path exclude each other.
type Guard struct {
	held atomic.Bool

	lockPath   string
	staleAfter time.Duration
}

// NewFileGuard returns a guard backed by the lock file at path. A lock file
// older than staleAfter is treated as left behind by a crashed process and
// taken over; staleAfter <= 0 never takes over.
func NewFileGuard(path string, staleAfter time.Duration) *Guard {
	return &Guard{lockPath: path, staleAfter: staleAfter}
}

// Acquire takes the guard or fails with ErrBusy. It never waits.
// The returned release func may be called any number of times.
func (g *Guard) Acquire() (release func(), error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if g.lockPath != "" {
		if err := g.lockFile(); err != nil {
			g.held.Store(false)
			return nil, err
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if g.lockPath != "" {
				if err := os.Remove(g.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
					log.Warnf("remove lock %s: %v", g.lockPath, err)
				}
			}
			g.held.Store(false)
		})
	}, nil
}

// Held reports whether this guard is currently taken.
func (g *Guard) Held() bool { return g.held.Load() }

func (g *Guard) lockFile() error {
	if err := os.MkdirAll(filepath.Dir(g.lockPath), 0o755); err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}
	for range 2 {
		f, err := os.OpenFile(g.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("lock %s: %w", g.lockPath, err)
		}

		info, err := os.Stat(g.lockPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return fmt.Errorf("lock %s: %w", g.lockPath, err)
		case g.staleAfter <= 0 || time.Since(info.ModTime()) < g.staleAfter:
			return ErrBusy
		}
		log.Warnf("taking over stale lock %s from %s", g.lockPath, info.ModTime().Format(time.RFC3339))
		if err := os.Remove(g.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("lock %s: %w", g.lockPath, err)
		}
	}
	return ErrBusy
}
