// Package pubsub provides typed fan-out topics.
package pubsub

import (
	"slices"
	"sync"
)

// Topic delivers values of type T to callback and channel subscribers.
// Callbacks run synchronously on the publisher's goroutine; channel
// subscribers that fall behind miss values.
type Topic[T any] struct {
	mu    sync.RWMutex
	next  int
	subs  []callback[T]
	chans map[chan T]struct{}
}

type callback[T any] struct {
	id int
	fn func(T)
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{chans: make(map[chan T]struct{})}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (cancel func()) {
	t.mu.Lock()
	t.next++
	id := t.next
	t.subs = append(t.subs, callback[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.subs = slices.DeleteFunc(t.subs, func(c callback[T]) bool { return c.id == id })
		})
	}
}

// Chan returns a buffered channel that receives published values.
func (t *Topic[T]) Chan(buf int) chan T {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan T, buf)
	t.mu.Lock()
	t.chans[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel subscriber and closes its channel.
func (t *Topic[T]) Unsubscribe(ch chan T) {
	t.mu.Lock()
	_, ok := t.chans[ch]
	delete(t.chans, ch)
	t.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := slices.Clone(t.subs)
	for ch := range t.chans {
		select {
		case ch <- v:
		default:
			// subscriber too slow, skip
		}
	}
	t.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs) + len(t.chans)
}
