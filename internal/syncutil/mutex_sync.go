//go:build !deadlock

// Package syncutil provides the mutex used by the engine queues.
// The default build uses sync.Mutex. Build with -tags=deadlock to swap in
// github.com/sasha-s/go-deadlock and catch lock-order bugs between the
// radio loop and application goroutines.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}
