/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package waiter provides cancellable futures keyed by (event kind, correlation id). A waiter is
// registered before the action whose outcome it awaits, fulfilled by whoever observes the outcome,
// and removed from the hub on success, timeout, cancellation or hub shutdown.
package waiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Wait when the timeout elapses first.
	ErrTimeout = errors.New("timed out waiting for event")
	// ErrClosed is returned by Wait when the hub is shut down.
	ErrClosed = errors.New("waiter hub closed")
)

// Kind names an event family.
type Kind string

// Key correlates a waiter with the event that fulfils it.
type Key struct {
	Kind Kind
	ID   string
}

// Hub tracks pending waiters.
type Hub struct {
	mu      sync.Mutex
	waiters map[Key]map[*Waiter]struct{}
	done    chan struct{}
	closed  bool
}

// New returns a new Hub.
func New() *Hub {
	return &Hub{
		waiters: map[Key]map[*Waiter]struct{}{},
		done:    make(chan struct{}),
	}
}

// Waiter is a single pending future.
type Waiter struct {
	hub   *Hub
	key   Key
	match func(interface{}) bool
	ch    chan interface{}
}

// Register adds a waiter for key. match may be nil; otherwise only values it accepts fulfil the waiter.
func (h *Hub) Register(key Key, match func(interface{}) bool) *Waiter {
	w := &Waiter{
		hub:   h,
		key:   key,
		match: match,
		ch:    make(chan interface{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return w
	}

	if h.waiters[key] == nil {
		h.waiters[key] = map[*Waiter]struct{}{}
	}

	h.waiters[key][w] = struct{}{}

	return w
}

// Fulfil delivers v to every waiter registered for key that accepts it. It returns how many waiters were fulfilled.
func (h *Hub) Fulfil(key Key, v interface{}) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0

	for w := range h.waiters[key] {
		if w.match != nil && !w.match(v) {
			continue
		}

		w.ch <- v

		delete(h.waiters[key], w)

		n++
	}

	if len(h.waiters[key]) == 0 {
		delete(h.waiters, key)
	}

	return n
}

// Pending returns the number of waiters registered for key.
func (h *Hub) Pending(key Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.waiters[key])
}

// Close releases every pending waiter with ErrClosed. Subsequent waits fail immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true
	h.waiters = map[Key]map[*Waiter]struct{}{}

	close(h.done)
}

// Wait blocks until the waiter is fulfilled, the timeout elapses, ctx is done or the hub is closed.
// The waiter is always removed from the hub when Wait returns.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (interface{}, error) {
	defer w.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-w.ch:
		return v, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.hub.done:
		return nil, ErrClosed
	}
}

// Cancel removes the waiter from the hub. It is safe to call more than once.
func (w *Waiter) Cancel() {
	h := w.hub

	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.waiters[w.key]; ok {
		delete(set, w)

		if len(set) == 0 {
			delete(h.waiters, w.key)
		}
	}
}
