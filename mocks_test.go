package callcore

import (
	"context"
	"sync"

	"github.com/opd-ai/callcore/session"
)

// mockCallingService records invocations and returns configurable
// errors, following the mock collaborator pattern used across the
// package tests.
type mockCallingService struct {
	mu sync.Mutex

	// Error injected into every method when set.
	err error

	peekInfo *session.PeekInfo

	peeks        int
	history      int
	outgoing     int
	accepts      int
	declines     int
	ringDeclines []int64
	joins        []joinCall
	hangups      []HangupReason
	audioToggles []bool
	videoToggles []bool
	presenting   []*session.PresentedSource
}

type joinCall struct {
	conv       session.ConversationID
	hasAudio   bool
	hasVideo   bool
	shouldRing bool
}

func (m *mockCallingService) PeekGroupCall(ctx context.Context, conv session.ConversationID) (*session.PeekInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peeks++
	return m.peekInfo, m.err
}

func (m *mockCallingService) UpdateCallHistoryForGroupCall(conv session.ConversationID, join session.GroupJoinState, info *session.PeekInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history++
}

func (m *mockCallingService) StartOutgoingDirectCall(ctx context.Context, conv session.ConversationID, hasAudio, hasVideo bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.outgoing++
	return nil
}

func (m *mockCallingService) AcceptDirectCall(ctx context.Context, conv session.ConversationID, asVideoCall bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.accepts++
	return nil
}

func (m *mockCallingService) DeclineDirectCall(ctx context.Context, conv session.ConversationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.declines++
	return nil
}

func (m *mockCallingService) JoinGroupCall(ctx context.Context, conv session.ConversationID, hasAudio, hasVideo, shouldRing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.joins = append(m.joins, joinCall{conv, hasAudio, hasVideo, shouldRing})
	return nil
}

func (m *mockCallingService) DeclineGroupCall(ctx context.Context, conv session.ConversationID, ringID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ringDeclines = append(m.ringDeclines, ringID)
	return nil
}

func (m *mockCallingService) Hangup(ctx context.Context, conv session.ConversationID, reason HangupReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.hangups = append(m.hangups, reason)
	return nil
}

func (m *mockCallingService) SetOutgoingAudio(ctx context.Context, conv session.ConversationID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.audioToggles = append(m.audioToggles, enabled)
	return nil
}

func (m *mockCallingService) SetOutgoingVideo(ctx context.Context, conv session.ConversationID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.videoToggles = append(m.videoToggles, enabled)
	return nil
}

func (m *mockCallingService) SetPresenting(ctx context.Context, conv session.ConversationID, source *session.PresentedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.presenting = append(m.presenting, source)
	return nil
}

func (m *mockCallingService) SetGroupCallVideoRequest(ctx context.Context, conv session.ConversationID, demuxIDs []uint32, height uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *mockCallingService) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockCallingService) peekCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peeks
}

func (m *mockCallingService) lastJoin() (joinCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.joins) == 0 {
		return joinCall{}, false
	}
	return m.joins[len(m.joins)-1], true
}
