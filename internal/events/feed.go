package events

import "sync"

// Feed delivers published values to its subscribers on one goroutine, in
// the order Publish was called. Publish never waits for a subscriber, so it
// is safe to call while holding the lock that orders the values.
type Feed[T any] struct {
	mu     sync.Mutex
	queue  []T
	subs   []func(T)
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewFeed starts an empty feed
func NewFeed[T any]() *Feed[T] {
	f := &Feed[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go f.loop()
	return f
}

// Subscribe registers fn for values published from now on
func (f *Feed[T]) Subscribe(fn func(T)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}

// Publish queues v for delivery. Values published after Close are dropped.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	if f.closed || len(f.subs) == 0 {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, v)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Close delivers everything already queued, then stops the feed
func (f *Feed[T]) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	<-f.done
}

func (f *Feed[T]) loop() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 {
			if f.closed {
				f.mu.Unlock()
				return
			}
			f.mu.Unlock()
			<-f.wake
			f.mu.Lock()
		}
		pending := f.queue
		f.queue = nil
		subs := f.subs
		f.mu.Unlock()

		for _, v := range pending {
			for _, fn := range subs {
				fn(v)
			}
		}
	}
}
