// Package lock serializes obplan runs against one deployment. Checks take
// a shared lock; rewriting the topology takes an exclusive one.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
)

// RetryDelay is how often a waiting Acquire retries.
const RetryDelay = 200 * time.Millisecond

// Mode selects shared or exclusive locking.
type Mode int

const (
	// Shared allows concurrent readers of the deployment.
	Shared Mode = iota
	// Exclusive is required to rewrite the deployment.
	Exclusive
)

// DeploymentLock is a cross-process lock on a topology file, held on a
// hidden sibling file.
type DeploymentLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// ForTopology returns the lock of the topology file at path.
func ForTopology(path string) *DeploymentLock {
	lockPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
	return &DeploymentLock{path: lockPath, flock: flock.New(lockPath)}
}

// TryAcquire takes the lock without blocking. It fails with
// ErrCodeLocked when another run holds it.
func (l *DeploymentLock) TryAcquire(mode Mode) error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	var ok bool
	var err error
	if mode == Exclusive {
		ok, err = l.flock.TryLock()
	} else {
		ok, err = l.flock.TryRLock()
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return l.busy()
	}
	l.locked = true
	return nil
}

// Acquire waits for the lock until ctx is done.
func (l *DeploymentLock) Acquire(ctx context.Context, mode Mode) error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	var ok bool
	var err error
	if mode == Exclusive {
		ok, err = l.flock.TryLockContext(ctx, RetryDelay)
	} else {
		ok, err = l.flock.TryRLockContext(ctx, RetryDelay)
	}
	if err != nil {
		if ctx.Err() != nil {
			return l.busy()
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return l.busy()
	}
	l.locked = true
	return nil
}

// Release releases the lock. Releasing an unheld lock is a no-op.
func (l *DeploymentLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file.
func (l *DeploymentLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *DeploymentLock) IsLocked() bool {
	return l.locked
}

func (l *DeploymentLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}

func (l *DeploymentLock) busy() error {
	return obperrors.New(obperrors.ErrCodeLocked, "deployment is locked by another obplan run", nil).
		WithDetail("lock", l.path).
		WithSuggestion("Wait for the other run to finish or pass --wait")
}
