package peek

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/session"
)

// DefaultDebounceInterval is the quiescence period a queue waits before
// issuing a refresh, so bursts of membership notifications collapse into
// a single network round-trip.
const DefaultDebounceInterval = time.Second

// Store is the minimal session-store surface the coordinator needs:
// the guard re-check before fetching and the transition that applies a
// fetched snapshot.
type Store interface {
	Record(conv session.ConversationID) (session.CallRecord, bool)
	ApplyPeekFulfilled(conv session.ConversationID, info session.PeekInfo) []session.Intent
}

// Service is the calling-service surface the coordinator consumes.
type Service interface {
	// PeekGroupCall fetches the current membership snapshot. A nil
	// snapshot with nil error means the server reports no call.
	PeekGroupCall(ctx context.Context, conv session.ConversationID) (*session.PeekInfo, error)

	// UpdateCallHistoryForGroupCall is a fire-and-forget side effect
	// triggered after a snapshot was applied; its result is never read.
	UpdateCallHistoryForGroupCall(conv session.ConversationID, join session.GroupJoinState, info *session.PeekInfo)
}

// OnlineWaiter gates refreshes on network connectivity.
type OnlineWaiter interface {
	// WaitUntilOnline blocks until the network is reachable or the
	// context is done.
	WaitUntilOnline(ctx context.Context) error
}

// AlwaysOnline is an OnlineWaiter that never blocks. Useful for tests
// and for hosts without a connectivity monitor.
type AlwaysOnline struct{}

// WaitUntilOnline returns immediately.
func (AlwaysOnline) WaitUntilOnline(ctx context.Context) error {
	return ctx.Err()
}

// queueState tracks where a per-conversation queue is in its cycle.
type queueState uint8

const (
	// queueWaiting means the debounce timer is running; new requests
	// coalesce into the upcoming refresh.
	queueWaiting queueState = iota
	// queueFetching means the refresh was issued; new requests set the
	// pending flag and earn exactly one trailing rerun.
	queueFetching
)

type queue struct {
	state   queueState
	pending bool
}

// Coordinator schedules group-call membership refreshes with
// single-flight, debounced, per-conversation queues. One queue goroutine
// exists per conversation with outstanding work; idle queues are removed
// from the map.
type Coordinator struct {
	store   Store
	service Service
	online  OnlineWaiter

	mu     sync.Mutex
	queues map[session.ConversationID]*queue
	closed bool

	debounce     time.Duration
	timeProvider TimeProvider

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. store and service must be
// non-nil; a nil online waiter defaults to AlwaysOnline.
func NewCoordinator(store Store, service Service, online OnlineWaiter) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if service == nil {
		return nil, errors.New("service cannot be nil")
	}
	if online == nil {
		online = AlwaysOnline{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:        store,
		service:      service,
		online:       online,
		queues:       make(map[session.ConversationID]*queue),
		debounce:     DefaultDebounceInterval,
		timeProvider: RealTimeProvider{},
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// SetDebounceInterval overrides the quiescence period. Primarily useful
// for tests; takes effect for refresh cycles started afterwards.
func (c *Coordinator) SetDebounceInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounce = d
}

// SetTimeProvider sets the time provider for deterministic testing.
// If tp is nil, RealTimeProvider is used.
func (c *Coordinator) SetTimeProvider(tp TimeProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tp == nil {
		tp = RealTimeProvider{}
	}
	c.timeProvider = tp
}

// Request asks for a membership refresh of the conversation. Requests
// for conversations holding a direct-call record are ignored; the peek
// operation only applies to group calls. The request is coalesced into
// any refresh already scheduled or in flight.
func (c *Coordinator) Request(conv session.ConversationID) {
	if rec, ok := c.store.Record(conv); ok && rec.Mode() == session.ModeDirect {
		logrus.WithFields(logrus.Fields{
			"function":     "Request",
			"conversation": conv,
		}).Debug("Ignoring peek request for direct call")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if q, exists := c.queues[conv]; exists {
		if q.state == queueFetching {
			q.pending = true
		}
		// queueWaiting: the upcoming refresh already covers this request.
		return
	}

	q := &queue{state: queueWaiting}
	c.queues[conv] = q
	c.wg.Add(1)
	go c.run(conv, q)
}

// run is the per-conversation queue loop. Each cycle waits out the
// debounce interval and connectivity gate, re-checks the stale guard,
// fetches, applies, then either reruns (a request arrived mid-flight)
// or removes the queue and exits.
func (c *Coordinator) run(conv session.ConversationID, q *queue) {
	defer c.wg.Done()

	for {
		if !c.waitDebounce() {
			c.removeQueue(conv)
			return
		}

		c.mu.Lock()
		q.state = queueFetching
		c.mu.Unlock()

		if err := c.online.WaitUntilOnline(c.ctx); err != nil {
			c.removeQueue(conv)
			return
		}

		c.refresh(conv)

		c.mu.Lock()
		if c.closed || !q.pending {
			delete(c.queues, conv)
			c.mu.Unlock()
			return
		}
		q.pending = false
		q.state = queueWaiting
		c.mu.Unlock()
	}
}

// waitDebounce blocks for the quiescence interval. Returns false when
// the coordinator shut down first.
func (c *Coordinator) waitDebounce() bool {
	c.mu.Lock()
	d := c.debounce
	tp := c.timeProvider
	c.mu.Unlock()

	timer := tp.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// refresh performs one guarded fetch-and-apply cycle.
func (c *Coordinator) refresh(conv session.ConversationID) {
	// Re-check immediately before fetching: a call that connected while
	// this refresh was queued gets its membership from the media layer,
	// not from us.
	if rec, ok := c.store.Record(conv); ok {
		if g, isGroup := rec.(*session.GroupCall); isGroup &&
			g.ConnectionState != session.GroupConnectionNotConnected {
			logrus.WithFields(logrus.Fields{
				"function":     "refresh",
				"conversation": conv,
				"connection":   g.ConnectionState,
			}).Debug("Call connected, skipping peek")
			return
		}
	}

	info, err := c.service.PeekGroupCall(c.ctx, conv)
	if err != nil {
		// Failures are not retried here; the next trigger coalesces
		// into a fresh attempt.
		logrus.WithFields(logrus.Fields{
			"function":     "refresh",
			"conversation": conv,
			"error":        err.Error(),
		}).Warn("Peek failed, dropping")
		return
	}
	if info == nil {
		logrus.WithFields(logrus.Fields{
			"function":     "refresh",
			"conversation": conv,
		}).Debug("Server reports no call")
		return
	}

	for _, intent := range c.store.ApplyPeekFulfilled(conv, *info) {
		if hist, ok := intent.(session.CallHistoryIntent); ok {
			c.service.UpdateCallHistoryForGroupCall(hist.Conversation, hist.JoinState, hist.Peek)
		}
	}
}

// removeQueue drops the queue entry for a conversation.
func (c *Coordinator) removeQueue(conv session.ConversationID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, conv)
}

// QueueCount returns the number of conversations with outstanding
// refresh work. Idle conversations hold no entry.
func (c *Coordinator) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues)
}

// Close stops all queues and waits for their goroutines to exit.
// Further requests are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
