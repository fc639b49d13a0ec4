package indexer

import "sync/atomic"

// IndexLock is a non-blocking mutex guarding one indexing run at a time.
// A second caller gets ErrIndexingInProgress instead of queueing behind a
// run that can take minutes.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a run is in progress
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
