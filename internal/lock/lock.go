// Package lock provides drop-in replacements for sync mutex types
// backed by go-deadlock's detection.
package lock

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	// token refreshes hold the lock across a github api round trip
	deadlock.Opts.DeadlockTimeout = time.Minute
}

// Mutex is a sync.Mutex with deadlock detection.
type Mutex = deadlock.Mutex

// RWMutex is a sync.RWMutex with deadlock detection.
type RWMutex = deadlock.RWMutex
