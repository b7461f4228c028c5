package peek

import (
	"context"
	"sync"

	"github.com/opd-ai/callcore/session"
)

// mockService is a controllable Service for coordinator tests. When
// started is non-nil, every fetch signals it; when block is non-nil,
// every fetch waits on it before returning, holding the call in flight.
type mockService struct {
	mu      sync.Mutex
	peeks   int
	history int

	info *session.PeekInfo
	err  error

	started chan struct{}
	block   chan struct{}
}

func (m *mockService) PeekGroupCall(ctx context.Context, conv session.ConversationID) (*session.PeekInfo, error) {
	m.mu.Lock()
	m.peeks++
	started, block := m.started, m.block
	info, err := m.info, m.err
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return info, err
}

func (m *mockService) UpdateCallHistoryForGroupCall(conv session.ConversationID, join session.GroupJoinState, info *session.PeekInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history++
}

func (m *mockService) peekCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peeks
}

func (m *mockService) historyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

// gatedWaiter blocks WaitUntilOnline until its gate closes.
type gatedWaiter struct {
	gate chan struct{}
}

func (w *gatedWaiter) WaitUntilOnline(ctx context.Context) error {
	select {
	case <-w.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
