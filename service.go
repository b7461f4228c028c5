package callcore

import (
	"context"

	"github.com/opd-ai/callcore/session"
)

// HangupReason explains a local hang-up to the calling service.
type HangupReason uint8

const (
	// HangupNormal is an ordinary hang-up.
	HangupNormal HangupReason = iota
	// HangupBusy reports the user was busy with another call.
	HangupBusy
	// HangupDeclined reports the user declined the call.
	HangupDeclined
	// HangupNeedPermission reports the call cannot proceed until a
	// message request is approved.
	HangupNeedPermission
)

// CallingService is the external capability that actually establishes
// and controls media. Every method except the peek pair is a suspension
// point: its return (or the absence of an error) is the only signal the
// command layer relies on before applying the corresponding transition.
// Implementations wrap the platform's calling stack.
type CallingService interface {
	// PeekGroupCall fetches a group call's membership snapshot. A nil
	// snapshot with nil error means the server reports no call.
	PeekGroupCall(ctx context.Context, conv session.ConversationID) (*session.PeekInfo, error)

	// UpdateCallHistoryForGroupCall records a membership snapshot in
	// call history. Fire-and-forget; never read back.
	UpdateCallHistoryForGroupCall(conv session.ConversationID, join session.GroupJoinState, info *session.PeekInfo)

	// StartOutgoingDirectCall dials a one-to-one call.
	StartOutgoingDirectCall(ctx context.Context, conv session.ConversationID, hasAudio, hasVideo bool) error

	// AcceptDirectCall accepts an incoming one-to-one call.
	AcceptDirectCall(ctx context.Context, conv session.ConversationID, asVideoCall bool) error

	// DeclineDirectCall declines an incoming one-to-one call.
	DeclineDirectCall(ctx context.Context, conv session.ConversationID) error

	// JoinGroupCall joins a group call, optionally ringing the other
	// members. Suspends until joined or failed.
	JoinGroupCall(ctx context.Context, conv session.ConversationID, hasAudio, hasVideo, shouldRing bool) error

	// DeclineGroupCall declines a group ring.
	DeclineGroupCall(ctx context.Context, conv session.ConversationID, ringID int64) error

	// Hangup leaves or cancels the call for the conversation.
	Hangup(ctx context.Context, conv session.ConversationID, reason HangupReason) error

	// SetOutgoingAudio toggles the outgoing audio track.
	SetOutgoingAudio(ctx context.Context, conv session.ConversationID, enabled bool) error

	// SetOutgoingVideo toggles the outgoing video track.
	SetOutgoingVideo(ctx context.Context, conv session.ConversationID, enabled bool) error

	// SetPresenting starts or stops sharing the given source; a nil
	// source stops sharing.
	SetPresenting(ctx context.Context, conv session.ConversationID, source *session.PresentedSource) error

	// SetGroupCallVideoRequest tells the media layer which remote video
	// streams to request at which height.
	SetGroupCallVideoRequest(ctx context.Context, conv session.ConversationID, demuxIDs []uint32, height uint16) error
}
