package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// errRunInProgress is returned when another process holds the run lock.
var errRunInProgress = errors.New("another refresher run is in progress")

// acquireRunLock takes the lock file without blocking. The returned
// function releases it.
func acquireRunLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errRunInProgress
	}
	return func() { _ = lock.Unlock() }, nil
}
