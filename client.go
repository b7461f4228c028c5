package callcore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/limits"
	"github.com/opd-ai/callcore/peek"
	"github.com/opd-ai/callcore/session"
)

// Client is the command layer over the session store, the peek
// coordinator, and the external calling service. Commands validate the
// request against the current state, invoke the calling service (which
// may suspend), and on success submit the state transition.
type Client struct {
	store   *session.Store
	peeks   *peek.Coordinator
	service CallingService

	mu sync.RWMutex
	// tooBig caches the too-big-to-ring determination per conversation,
	// refreshed by conversation metadata events.
	tooBig map[session.ConversationID]bool
	closed bool
}

// NewClient creates a client around the given calling service.
// localIdentity is the local user's service identity, used to recognize
// ourselves in membership snapshots. A nil online waiter means peeks
// never wait for connectivity.
func NewClient(service CallingService, online peek.OnlineWaiter, localIdentity uuid.UUID) (*Client, error) {
	if service == nil {
		return nil, errors.New("calling service cannot be nil")
	}

	store := session.NewStore(localIdentity)
	peeks, err := peek.NewCoordinator(store, service, online)
	if err != nil {
		return nil, fmt.Errorf("failed to create peek coordinator: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewClient",
	}).Info("Call client created")

	return &Client{
		store:   store,
		peeks:   peeks,
		service: service,
		tooBig:  make(map[session.ConversationID]bool),
	}, nil
}

// Store exposes the session store for read access by the UI layer.
func (c *Client) Store() *session.Store {
	return c.store
}

// Peeks exposes the peek coordinator, mainly for configuration.
func (c *Client) Peeks() *peek.Coordinator {
	return c.peeks
}

// Close shuts down the peek coordinator. Commands issued afterwards
// fail with ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.peeks.Close()
}

// isClosed reports whether Close has been called.
func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// isTooBigToRing reports the cached too-big determination.
func (c *Client) isTooBigToRing(conv session.ConversationID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tooBig[conv]
}

// execute runs side-effect intents produced by store transitions.
func (c *Client) execute(intents []session.Intent) {
	for _, intent := range intents {
		switch in := intent.(type) {
		case session.PeekIntent:
			c.peeks.Request(in.Conversation)
		case session.CallHistoryIntent:
			c.service.UpdateCallHistoryForGroupCall(in.Conversation, in.JoinState, in.Peek)
		}
	}
}

// LobbyRequest configures StartCallLobby.
type LobbyRequest struct {
	// Mode selects the kind of call to prepare.
	Mode session.CallMode

	// HasLocalAudio and HasLocalVideo are the initial media toggles.
	HasLocalAudio bool
	HasLocalVideo bool

	// IsVideoCall marks a direct lobby as a video call.
	IsVideoCall bool
}

// StartCallLobby opens the pre-join lobby for a conversation and makes
// it the active call. Fails if a different conversation's call is
// already active. Group lobbies trigger a membership refresh so the
// lobby shows who is already in the call.
func (c *Client) StartCallLobby(ctx context.Context, conv session.ConversationID, req LobbyRequest) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if active, ok := c.store.Active(); ok && active.ConversationID != conv {
		return fmt.Errorf("%w: %s", ErrCallAlreadyActive, active.ConversationID)
	}

	c.execute(c.store.StartLobby(conv, session.LobbyOptions{
		Mode:          req.Mode,
		HasLocalAudio: req.HasLocalAudio,
		HasLocalVideo: req.HasLocalVideo,
		IsVideoCall:   req.IsVideoCall,
		TooBigToRing:  c.isTooBigToRing(conv),
	}))
	return nil
}

// StartOutgoingDirectCall dials a one-to-one call. The record and
// active call are installed only once the calling service has accepted
// the dial request.
func (c *Client) StartOutgoingDirectCall(ctx context.Context, conv session.ConversationID, hasVideo bool) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if active, ok := c.store.Active(); ok && active.ConversationID != conv {
		return fmt.Errorf("%w: %s", ErrCallAlreadyActive, active.ConversationID)
	}

	if err := c.service.StartOutgoingDirectCall(ctx, conv, true, hasVideo); err != nil {
		return fmt.Errorf("failed to start outgoing call: %w", err)
	}
	c.store.StartDirectOutgoing(conv, hasVideo)
	return nil
}

// AcceptCall accepts an incoming direct call, optionally answering with
// video, and makes the conversation the active call.
func (c *Client) AcceptCall(ctx context.Context, conv session.ConversationID, asVideoCall bool) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	rec, ok := c.store.Record(conv)
	if !ok {
		return ErrNoIncomingCall
	}
	d, isDirect := rec.(*session.DirectCall)
	if !isDirect {
		return fmt.Errorf("%w: %s", ErrWrongCallMode, rec.Mode())
	}
	if !d.IsIncoming || d.State != session.DirectStateRinging {
		return ErrNoIncomingCall
	}

	if err := c.service.AcceptDirectCall(ctx, conv, asVideoCall); err != nil {
		return fmt.Errorf("failed to accept call: %w", err)
	}
	c.store.ActivateCall(conv, true, asVideoCall)
	return nil
}

// DeclineCall declines whatever is ringing for the conversation: an
// incoming direct call, or a group ring.
func (c *Client) DeclineCall(ctx context.Context, conv session.ConversationID) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	rec, ok := c.store.Record(conv)
	if !ok {
		return ErrNoIncomingCall
	}

	switch call := rec.(type) {
	case *session.DirectCall:
		if !call.IsIncoming {
			return ErrNoIncomingCall
		}
		if err := c.service.DeclineDirectCall(ctx, conv); err != nil {
			return fmt.Errorf("failed to decline call: %w", err)
		}
		c.store.RemoveConversation(conv)
		return nil

	case *session.GroupCall:
		if call.Ring == nil {
			return ErrNoIncomingCall
		}
		if err := c.service.DeclineGroupCall(ctx, conv, call.Ring.ID); err != nil {
			return fmt.Errorf("failed to decline group ring: %w", err)
		}
		c.store.CancelRing(conv, call.Ring.ID)
		return nil

	default:
		return ErrWrongCallMode
	}
}

// JoinGroupCall joins the group call for the conversation, using the
// active lobby's media toggles and outgoing-ring decision. The join is
// refused locally when the last membership snapshot shows the call at
// capacity.
func (c *Client) JoinGroupCall(ctx context.Context, conv session.ConversationID) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	rec, ok := c.store.Record(conv)
	if !ok {
		return ErrNoSuchCall
	}
	g, isGroup := rec.(*session.GroupCall)
	if !isGroup {
		return fmt.Errorf("%w: %s", ErrWrongCallMode, rec.Mode())
	}

	if g.Peek != nil {
		if err := limits.ValidateJoinCapacity(g.Peek.DeviceCount, g.Peek.MaxDevices); err != nil {
			return err
		}
	}

	hasAudio, hasVideo, shouldRing := true, false, false
	if active, ok := c.store.Active(); ok && active.ConversationID == conv {
		hasAudio = active.HasLocalAudio
		hasVideo = active.HasLocalVideo
		shouldRing = active.OutgoingRing
	}

	if err := c.service.JoinGroupCall(ctx, conv, hasAudio, hasVideo, shouldRing); err != nil {
		return fmt.Errorf("failed to join group call: %w", err)
	}
	// Join and connection state arrive through group call state change
	// events once the media layer reports them.
	return nil
}

// HangUp leaves or cancels the call for the conversation. On success
// the record is removed, and group conversations get a membership
// refresh so the remaining participants are reflected promptly.
func (c *Client) HangUp(ctx context.Context, conv session.ConversationID, reason HangupReason) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	rec, ok := c.store.Record(conv)
	if !ok {
		return ErrNoSuchCall
	}

	if err := c.service.Hangup(ctx, conv, reason); err != nil {
		return fmt.Errorf("failed to hang up: %w", err)
	}
	c.store.RemoveConversation(conv)

	if rec.Mode() != session.ModeDirect {
		c.peeks.Request(conv)
	}
	return nil
}

// CancelCall tears down an outgoing call or lobby that never connected.
func (c *Client) CancelCall(ctx context.Context, conv session.ConversationID) error {
	return c.HangUp(ctx, conv, HangupNormal)
}

// SetLocalAudio toggles the outgoing audio track of the active call.
func (c *Client) SetLocalAudio(ctx context.Context, enabled bool) error {
	active, ok := c.store.Active()
	if !ok {
		return ErrNoSuchCall
	}
	if err := c.service.SetOutgoingAudio(ctx, active.ConversationID, enabled); err != nil {
		return fmt.Errorf("failed to set outgoing audio: %w", err)
	}
	c.store.SetLocalAudio(enabled)
	return nil
}

// SetLocalVideo toggles the outgoing video track of the active call.
func (c *Client) SetLocalVideo(ctx context.Context, enabled bool) error {
	active, ok := c.store.Active()
	if !ok {
		return ErrNoSuchCall
	}
	if err := c.service.SetOutgoingVideo(ctx, active.ConversationID, enabled); err != nil {
		return fmt.Errorf("failed to set outgoing video: %w", err)
	}
	c.store.SetLocalVideo(enabled)
	return nil
}

// SetPresenting starts or stops sharing the given source on the active
// call; a nil source stops sharing.
func (c *Client) SetPresenting(ctx context.Context, source *session.PresentedSource) error {
	active, ok := c.store.Active()
	if !ok {
		return ErrNoSuchCall
	}
	if err := c.service.SetPresenting(ctx, active.ConversationID, source); err != nil {
		return fmt.Errorf("failed to set presenting: %w", err)
	}
	c.store.SetPresenting(source)
	return nil
}

// SetGroupCallVideoRequest tells the media layer which remote streams
// to request for the active call.
func (c *Client) SetGroupCallVideoRequest(ctx context.Context, demuxIDs []uint32, height uint16) error {
	active, ok := c.store.Active()
	if !ok {
		return ErrNoSuchCall
	}
	return c.service.SetGroupCallVideoRequest(ctx, active.ConversationID, demuxIDs, height)
}

// TogglePip toggles picture-in-picture on the active call.
func (c *Client) TogglePip() { c.store.TogglePip() }

// ToggleSettings toggles the settings dialog on the active call.
func (c *Client) ToggleSettings() { c.store.ToggleSettings() }

// ToggleParticipantsList toggles the participants panel on the active call.
func (c *Client) ToggleParticipantsList() { c.store.ToggleParticipantsList() }

// SetViewMode sets the in-call layout.
func (c *Client) SetViewMode(mode session.ViewMode) { c.store.SetViewMode(mode) }

// SetOutgoingRing sets the outgoing-ring flag on the active lobby.
func (c *Client) SetOutgoingRing(enabled bool) { c.store.SetOutgoingRing(enabled) }
