package reactive

import (
	"sync"
)

// Observable is implemented by values that can push change notifications.
// OnChange registers fn to run after each change and returns a cancel
// function that removes the registration.
type Observable interface {
	OnChange(fn func()) (cancel func())
}

// Cell holds a single value that can be read, written, and subscribed to.
// Thread-safe for concurrent Get/Set operations. Subscribers are invoked
// synchronously, outside the cell's lock, in registration order.
type Cell[T any] struct {
	mu          sync.RWMutex
	value       T
	subscribers map[int64]func(T)
	nextSubID   int64
}

// NewCell creates a new Cell with the given initial value.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value:       initial,
		subscribers: make(map[int64]func(T)),
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.value
}

// Set updates the value and notifies all subscribers.
func (c *Cell[T]) Set(value T) {
	c.mu.Lock()
	c.value = value
	subs := c.snapshotLocked()
	c.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Update atomically applies fn to the current value.
// Useful for read-modify-write operations.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.value = fn(c.value)
	value := c.value
	subs := c.snapshotLocked()
	c.mu.Unlock()

	for _, sub := range subs {
		sub(value)
	}
}

// Subscribe registers fn to receive every value set after this call.
// The returned cancel function removes the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// OnChange implements Observable. The callback receives no value; read the
// cell inside the callback to observe the latest state.
func (c *Cell[T]) OnChange(fn func()) (cancel func()) {
	return c.Subscribe(func(T) { fn() })
}

// snapshotLocked copies the subscriber list in a stable order so callbacks
// run outside the lock. Callers must hold c.mu.
func (c *Cell[T]) snapshotLocked() []func(T) {
	if len(c.subscribers) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}

	// Insertion order matches ascending IDs.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}

	subs := make([]func(T), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, c.subscribers[id])
	}

	return subs
}
