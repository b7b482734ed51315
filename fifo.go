package esb

import "github.com/michcald/esb/internal/syncutil"

// FIFOCapacity is the depth of the TX and RX queues.
const FIFOCapacity = 8

// fifo is a bounded ring shared between application goroutines and the
// radio loop. Every method holds the lock only for the index update.
type fifo[T any] struct {
	mu    syncutil.Mutex
	buf   [FIFOCapacity]T
	head  int
	count int
}

func (f *fifo[T]) push(v T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == FIFOCapacity {
		return ErrNoMemory
	}
	f.buf[(f.head+f.count)%FIFOCapacity] = v
	f.count++
	return nil
}

func (f *fifo[T]) peek() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == 0 {
		var zero T
		return zero, false
	}
	return f.buf[f.head], true
}

// replaceHead overwrites the head entry. It reports false when empty.
func (f *fifo[T]) replaceHead(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == 0 {
		return false
	}
	f.buf[f.head] = v
	return true
}

func (f *fifo[T]) pop() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	if f.count == 0 {
		return zero, false
	}
	v := f.buf[f.head]
	f.buf[f.head] = zero
	f.head = (f.head + 1) % FIFOCapacity
	f.count--
	return v, true
}

// take removes and returns the oldest entry matching match.
func (f *fifo[T]) take(match func(T) bool) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	for i := range f.count {
		idx := (f.head + i) % FIFOCapacity
		if !match(f.buf[idx]) {
			continue
		}
		v := f.buf[idx]
		for j := i; j < f.count-1; j++ {
			f.buf[(f.head+j)%FIFOCapacity] = f.buf[(f.head+j+1)%FIFOCapacity]
		}
		f.buf[(f.head+f.count-1)%FIFOCapacity] = zero
		f.count--
		return v, true
	}
	return zero, false
}

func (f *fifo[T]) flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = [FIFOCapacity]T{}
	f.head = 0
	f.count = 0
}

func (f *fifo[T]) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fifo[T]) full() bool {
	return f.len() == FIFOCapacity
}
