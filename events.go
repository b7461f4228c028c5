package callcore

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/limits"
	"github.com/opd-ai/callcore/session"
)

// Inbound event handlers. These are invoked by the surrounding network
// and UI layers in the order events are observed; each maps to a store
// transition and never fails user-visibly. Stale events (racing a
// hang-up, duplicate delivery) are absorbed by the store's guards with
// a diagnostic.

// HandleIncomingDirectCall records an incoming one-to-one call offer.
func (c *Client) HandleIncomingDirectCall(conv session.ConversationID, isVideoCall bool) {
	c.store.ReceiveIncomingDirect(conv, isVideoCall)
}

// HandleGroupCallRing records an incoming group ring. Duplicate
// delivery of the same ring, or a ring for a call the user already
// joined, is dropped by the store.
func (c *Client) HandleGroupCallRing(conv session.ConversationID, ringID int64, ringer uuid.UUID) {
	c.store.ReceiveGroupRing(conv, ringID, ringer)
}

// HandleRingCancelled clears a group ring, but only when the ring id
// matches the one currently stored.
func (c *Client) HandleRingCancelled(conv session.ConversationID, ringID int64) {
	c.store.CancelRing(conv, ringID)
}

// HandleCallStateChanged applies a direct call signaling state change.
func (c *Client) HandleCallStateChanged(conv session.ConversationID, state session.DirectCallState, reason session.EndedReason, acceptedAt time.Time) {
	c.store.ApplyDirectStateChange(conv, state, reason, acceptedAt)
}

// HandleGroupCallStateChanged applies a group call state change from
// the media layer. A disconnect schedules a membership refresh.
func (c *Client) HandleGroupCallStateChanged(conv session.ConversationID, connection session.GroupConnectionState, join session.GroupJoinState, localAudio, localVideo bool, info *session.PeekInfo, participants []session.Participant) {
	c.execute(c.store.ApplyGroupStateChange(conv, connection, join, localAudio, localVideo, info, participants))
}

// HandlePeekRequest schedules a membership refresh for the
// conversation, coalescing with any refresh already underway.
func (c *Client) HandlePeekRequest(conv session.ConversationID) {
	c.peeks.Request(conv)
}

// HandleAudioLevels applies graded audio levels for the active call.
func (c *Client) HandleAudioLevels(conv session.ConversationID, localLevel float64, remoteLevels map[uint32]float64) {
	c.store.ApplyAudioLevels(conv, localLevel, remoteLevels)
}

// HandleRemoteVideoChanged records the remote video state of a direct call.
func (c *Client) HandleRemoteVideoChanged(conv session.ConversationID, hasVideo bool) {
	c.store.SetRemoteVideo(conv, hasVideo)
}

// HandleRemoteSharingScreenChanged records the remote screen-share
// state of a direct call.
func (c *Client) HandleRemoteSharingScreenChanged(conv session.ConversationID, sharing bool) {
	c.store.SetRemoteSharingScreen(conv, sharing)
}

// HandleSafetyNumberChanged marks members whose safety number changed
// during the active call, so the UI can block media until confirmed.
func (c *Client) HandleSafetyNumberChanged(ids ...uuid.UUID) {
	c.store.MarkSafetyNumberChanged(ids...)
}

// HandleSafetyNumberConfirmed clears the changed-safety-number marker
// for a member.
func (c *Client) HandleSafetyNumberConfirmed(id uuid.UUID) {
	c.store.ConfirmSafetyNumber(id)
}

// HandleConversationRemoved tears down any call state for a
// conversation that was deleted externally.
func (c *Client) HandleConversationRemoved(conv session.ConversationID) {
	c.store.RemoveConversation(conv)
}

// HandleConversationMetadataChanged re-evaluates the too-big-to-ring
// determination from a fresh member count. If an outgoing ring is
// already underway and the conversation just became too big, the ring
// is turned off — but only while the call is still not joined; once
// joined the flag has no further effect and is left alone.
func (c *Client) HandleConversationMetadataChanged(conv session.ConversationID, memberCount int) {
	tooBig := !limits.CanRing(memberCount)

	c.mu.Lock()
	was := c.tooBig[conv]
	c.tooBig[conv] = tooBig
	c.mu.Unlock()

	if !tooBig || was {
		return
	}

	active, ok := c.store.Active()
	if !ok || active.ConversationID != conv || !active.OutgoingRing {
		return
	}
	if g, isGroup := groupRecord(c.store, conv); isGroup && g.JoinState == session.GroupJoinNotJoined {
		logrus.WithFields(logrus.Fields{
			"function":     "HandleConversationMetadataChanged",
			"conversation": conv,
			"member_count": memberCount,
		}).Info("Conversation became too big to ring, turning outgoing ring off")
		c.store.SetOutgoingRing(false)
	}
}

// groupRecord fetches the group record for a conversation, if any.
func groupRecord(store *session.Store, conv session.ConversationID) (*session.GroupCall, bool) {
	rec, ok := store.Record(conv)
	if !ok {
		return nil, false
	}
	g, isGroup := rec.(*session.GroupCall)
	return g, isGroup
}
