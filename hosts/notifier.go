// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import "sync"

// Subscription receives the change events published by a hosts instance.
//
// Events are queued per subscription without bound, so publishers never block
// on a slow subscriber, and are delivered on the channel returned by C in the
// order they were published.
type Subscription struct {
	id       uint64
	notifier *notifier

	mtx     sync.Mutex
	pending []int

	wake chan struct{}
	quit chan struct{}
	c    chan int

	unsubscribe sync.Once
}

// C returns the channel the events are delivered on.  It is closed once the
// subscription is unsubscribed.
func (s *Subscription) C() <-chan int {
	return s.c
}

// Unsubscribe stops the delivery of events and releases the subscription.
// Events which were not received yet are discarded.
//
// It may be called multiple times.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe.Do(func() {
		s.notifier.remove(s.id)
		close(s.quit)
	})
}

// push queues an event for delivery without blocking.
func (s *Subscription) push(v int) {
	s.mtx.Lock()
	s.pending = append(s.pending, v)
	s.mtx.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliveryHandler moves queued events to the subscription channel until the
// subscription is unsubscribed.  It must be run as a goroutine.
func (s *Subscription) deliveryHandler() {
	defer close(s.c)

	for {
		s.mtx.Lock()
		if len(s.pending) == 0 {
			s.pending = nil
			s.mtx.Unlock()

			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}
		v := s.pending[0]
		s.pending = s.pending[1:]
		s.mtx.Unlock()

		select {
		case s.c <- v:
		case <-s.quit:
			return
		}
	}
}

// notifier is a registry of subscriptions which all receive every published
// event.
type notifier struct {
	mtx    sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// newNotifier returns an empty notifier.
func newNotifier() *notifier {
	return &notifier{
		subs: make(map[uint64]*Subscription),
	}
}

// subscribe registers and returns a new subscription.
func (n *notifier) subscribe() *Subscription {
	n.mtx.Lock()
	n.nextID++
	sub := &Subscription{
		id:       n.nextID,
		notifier: n,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		c:        make(chan int),
	}
	n.subs[sub.id] = sub
	n.mtx.Unlock()

	go sub.deliveryHandler()
	return sub
}

// remove unregisters the subscription with the passed id.
func (n *notifier) remove(id uint64) {
	n.mtx.Lock()
	delete(n.subs, id)
	n.mtx.Unlock()
}

// notify publishes the event to every registered subscription.
func (n *notifier) notify(v int) {
	n.mtx.Lock()
	for _, sub := range n.subs {
		sub.push(v)
	}
	n.mtx.Unlock()
}

// numSubscribers returns the number of registered subscriptions.
func (n *notifier) numSubscribers() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return len(n.subs)
}
