package player

import "sync"

// fifo is an unbounded single-consumer queue. push never blocks; pop blocks
// until an item arrives or the queue is closed and drained.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{signal: make(chan struct{}, 1)}
}

// push reports false once the queue is closed.
func (f *fifo[T]) push(v T) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.items = append(f.items, v)
	f.mu.Unlock()
	f.wake()
	return true
}

func (f *fifo[T]) pop() (T, bool) {
	var zero T
	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			v := f.items[0]
			f.items[0] = zero
			f.items = f.items[1:]
			f.mu.Unlock()
			return v, true
		}
		if f.closed {
			f.mu.Unlock()
			return zero, false
		}
		f.mu.Unlock()
		<-f.signal
	}
}

func (f *fifo[T]) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fifo[T]) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wake()
}

func (f *fifo[T]) wake() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}
