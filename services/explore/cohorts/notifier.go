// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cohorts

import (
	"sync"

	"github.com/google/uuid"
)

// notifierBuffer is the per-subscriber channel capacity. A full pipeline
// emits four transitions, so a subscriber that reads at all never misses one.
const notifierBuffer = 16

// Notifier broadcasts the status transitions of one cohort.
//
// # Description
//
// Subscribers receive the transitions that happen after they subscribe;
// past transitions are not replayed. Delivery never blocks the pipeline:
// a subscriber whose buffer is full misses the transition.
//
// # Thread Safety
//
// Safe for concurrent use.
type Notifier struct {
	mu     sync.Mutex
	subs   map[string]chan OperationStatus
	closed bool
}

func newNotifier() *Notifier {
	return &Notifier{subs: make(map[string]chan OperationStatus)}
}

// Subscribe returns a channel of transitions and a function that ends the
// subscription and closes the channel. On a closed notifier the channel is
// already closed.
func (n *Notifier) Subscribe() (<-chan OperationStatus, func()) {
	ch := make(chan OperationStatus, notifierBuffer)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.NewString()
	n.subs[id] = ch
	return ch, func() { n.unsubscribe(id) }
}

// Subscribers returns the number of active subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *Notifier) unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.subs[id]; ok {
		delete(n.subs, id)
		close(ch)
	}
}

func (n *Notifier) notify(status OperationStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- status:
		default:
		}
	}
}

func (n *Notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
