// SPDX-License-Identifier: MIT

// Package broadcast keeps the live subscriber set of a streaming service
// and delivers messages to it on a best-effort basis. A subscriber whose
// delivery fails is removed and closed; the others are unaffected.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	applog "audiopipe/internal/log"
	"audiopipe/internal/observe"
)

var ErrClosed = errors.New("broadcast: hub closed")

// Subscriber is one connected endpoint.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Registry is implemented by anything subscribers can join and leave.
type Registry interface {
	Connect(sub Subscriber) error
	Disconnect(sub Subscriber)
}

// Hub is a subscriber set. Iteration always happens over a snapshot so
// connects and disconnects never race with a broadcast in progress.
type Hub struct {
	service string
	metrics *observe.Metrics
	log     *applog.Logger

	mu     sync.RWMutex
	subs   map[Subscriber]struct{}
	closed bool
}

// NewHub returns an empty hub. service labels logs and metrics.
func NewHub(service string, m *observe.Metrics) *Hub {
	return &Hub{
		service: service,
		metrics: observe.OrDefault(m),
		log:     applog.New("Hub[" + service + "]"),
		subs:    make(map[Subscriber]struct{}),
	}
}

// Connect adds sub. Adding the same subscriber twice is a no-op.
func (h *Hub) Connect(sub Subscriber) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if _, ok := h.subs[sub]; ok {
		h.mu.Unlock()
		return nil
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.RecordSubscriberDelta(context.Background(), h.service, 1)
	h.log.Infof("subscriber %s connected, total: %d", sub.ID(), n)
	return nil
}

// Disconnect removes sub without closing it. Unknown subscribers are ignored.
func (h *Hub) Disconnect(sub Subscriber) {
	if h.remove(sub) {
		h.log.Infof("subscriber %s disconnected, total: %d", sub.ID(), h.Len())
	}
}

func (h *Hub) remove(sub Subscriber) bool {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		h.metrics.RecordSubscriberDelta(context.Background(), h.service, -1)
	}
	return ok
}

// Snapshot returns the current subscribers in no particular order.
func (h *Hub) Snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	return out
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast sends msg to every subscriber in a snapshot and returns how
// many deliveries succeeded. Sends run concurrently, so a stalled
// subscriber holds the call for at most its own write deadline rather than
// delaying the others. Failed subscribers are dropped and closed.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) int {
	subs := h.Snapshot()
	if len(subs) == 0 {
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	for _, s := range subs {
		g.Go(func() error {
			if err := s.Send(ctx, msg); err != nil {
				h.drop(ctx, s, err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	h.metrics.RecordBroadcast(ctx, h.service)
	return int(delivered.Load())
}

func (h *Hub) drop(ctx context.Context, s Subscriber, err error) {
	h.metrics.RecordDeliveryFailure(ctx, h.service)
	if !h.remove(s) {
		return
	}
	h.log.Warnf("dropping subscriber %s: %v", s.ID(), err)
	if cerr := s.Close(); cerr != nil {
		h.log.Debugf("close %s: %v", s.ID(), cerr)
	}
}

// Close closes and removes every subscriber. Later Connect calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()

	var errs []error
	for s := range subs {
		h.metrics.RecordSubscriberDelta(context.Background(), h.service, -1)
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.log.Infof("closed %d subscribers", len(subs))
	return errors.Join(errs...)
}

var _ Registry = (*Hub)(nil)
