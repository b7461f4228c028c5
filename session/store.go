package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store holds the conversation-to-CallRecord mapping and the single
// process-wide active call. The mapping and the active call are owned
// exclusively by the Store; all mutation happens through the transition
// methods, each applied atomically under the store mutex.
//
// Transitions are applied strictly in the order they are invoked. The
// Store never suspends; blocking work belongs to the command layer and
// the peek coordinator.
type Store struct {
	mu      sync.RWMutex
	records map[ConversationID]CallRecord
	active  *ActiveCall

	// localIdentity is our own service identity, used to decide whether
	// a membership snapshot shows someone other than us in a call.
	localIdentity uuid.UUID

	// ringsEnabled globally gates outgoing group rings.
	ringsEnabled bool
}

// NewStore creates an empty store. localIdentity is the local user's
// service identity.
func NewStore(localIdentity uuid.UUID) *Store {
	return &Store{
		records:       make(map[ConversationID]CallRecord),
		localIdentity: localIdentity,
		ringsEnabled:  true,
	}
}

// SetRingsEnabled globally enables or disables outgoing group rings.
// When disabled, lobbies always start with the outgoing ring off.
func (s *Store) SetRingsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringsEnabled = enabled
}

// Record returns a copy of the call record for the conversation.
func (s *Store) Record(conv ConversationID) (CallRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[conv]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Active returns a copy of the active call state, if any.
//
// An active call referencing a conversation with no record is a
// programming error; it is reported and deterministically treated as
// "no active call" rather than handed to callers.
func (s *Store) Active() (*ActiveCall, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, false
	}
	if _, ok := s.records[s.active.ConversationID]; !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "Active",
			"conversation": s.active.ConversationID,
		}).Error("invariant violation: active call references missing record")
		return nil, false
	}
	return s.active.clone(), true
}

// CallCount returns the number of call records currently held.
func (s *Store) CallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LobbyOptions configures StartLobby.
type LobbyOptions struct {
	// Mode selects the record variant to create.
	Mode CallMode

	// HasLocalAudio and HasLocalVideo are the initial media toggles.
	HasLocalAudio bool
	HasLocalVideo bool

	// IsVideoCall marks a direct lobby as a video call.
	IsVideoCall bool

	// TooBigToRing suppresses the outgoing ring for oversized groups.
	TooBigToRing bool
}

// StartLobby creates or overwrites the call record for the conversation
// in a transient pre-join shape and makes it the active call.
//
// For group mode, any peek snapshot or unresolved ring already held for
// the conversation is preserved rather than discarded; the record merely
// returns to the not-connected shape. The initial outgoing-ring flag is
// computed from the preserved snapshot (see computeOutgoingRing).
//
// Group lobbies return a PeekIntent so the membership snapshot gets
// refreshed while the user sits in the lobby.
func (s *Store) StartLobby(conv ConversationID, opts LobbyOptions) []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "StartLobby",
		"conversation": conv,
		"mode":         opts.Mode,
	}).Debug("Starting call lobby")

	if opts.Mode == ModeDirect {
		s.records[conv] = &DirectCall{
			State:       DirectStateNone,
			IsIncoming:  false,
			IsVideoCall: opts.IsVideoCall,
		}
		s.setActiveLocked(conv, opts.HasLocalAudio, opts.HasLocalVideo, false)
		return nil
	}

	prev, _ := s.records[conv].(*GroupCall)
	rec := newGroupRecord(opts.Mode == ModeAdhoc)
	if prev != nil {
		rec.Peek = prev.Peek
		rec.Ring = prev.Ring
	}
	s.records[conv] = rec

	ring := s.computeOutgoingRingLocked(prev, opts)
	s.setActiveLocked(conv, opts.HasLocalAudio, opts.HasLocalVideo, ring)

	return []Intent{PeekIntent{Conversation: conv}}
}

// computeOutgoingRingLocked decides the initial outgoing-ring flag for a
// group lobby. The ring is suppressed when the feature is globally
// disabled, the conversation is too large to ring, the call is a call
// link, the last snapshot already shows devices in the call, or the user
// is re-joining a call with visible participants.
func (s *Store) computeOutgoingRingLocked(prev *GroupCall, opts LobbyOptions) bool {
	if !s.ringsEnabled {
		return false
	}
	if opts.Mode == ModeAdhoc || opts.TooBigToRing {
		return false
	}
	if prev != nil {
		if prev.Peek != nil && prev.Peek.DeviceCount > 0 && len(prev.Peek.Members) > 0 {
			return false
		}
		if len(prev.Participants) > 0 {
			return false
		}
	}
	return true
}

// setActiveLocked installs a fresh active call. Caller holds s.mu.
func (s *Store) setActiveLocked(conv ConversationID, audio, video, outgoingRing bool) {
	s.active = &ActiveCall{
		ConversationID:      conv,
		HasLocalAudio:       audio,
		HasLocalVideo:       video,
		ViewMode:            ViewModeGrid,
		OutgoingRing:        outgoingRing,
		SafetyNumberChanged: make(map[uuid.UUID]struct{}),
	}
}

// StartDirectOutgoing records an outgoing one-to-one call and makes it
// the active call.
func (s *Store) StartDirectOutgoing(conv ConversationID, isVideo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[conv] = &DirectCall{
		State:       DirectStatePrering,
		IsIncoming:  false,
		IsVideoCall: isVideo,
	}
	s.setActiveLocked(conv, true, isVideo, false)

	logrus.WithFields(logrus.Fields{
		"function":     "StartDirectOutgoing",
		"conversation": conv,
		"video":        isVideo,
	}).Info("Outgoing direct call started")
}

// ReceiveIncomingDirect records an incoming one-to-one call. A duplicate
// offer for a conversation that already has a record is dropped.
func (s *Store) ReceiveIncomingDirect(conv ConversationID, isVideo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[conv]; exists {
		logrus.WithFields(logrus.Fields{
			"function":     "ReceiveIncomingDirect",
			"conversation": conv,
		}).Warn("Dropping duplicate incoming call offer")
		return
	}

	s.records[conv] = &DirectCall{
		State:       DirectStateRinging,
		IsIncoming:  true,
		IsVideoCall: isVideo,
	}
}

// ReceiveGroupRing records an incoming group ring. A ring for a call the
// user already joined (or is joining), or for a call that already has an
// unresolved ring, is treated as already handled: duplicate ring
// delivery must not double-apply, and a stale ring must not reopen a
// call the user is in.
func (s *Store) ReceiveGroupRing(conv ConversationID, ringID int64, ringer uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[conv]
	if !exists {
		g := newGroupRecord(false)
		g.Ring = &RingState{ID: ringID, Ringer: ringer}
		s.records[conv] = g
		logrus.WithFields(logrus.Fields{
			"function":     "ReceiveGroupRing",
			"conversation": conv,
			"ring_id":      ringID,
		}).Info("Incoming group ring")
		return
	}

	g, ok := rec.(*GroupCall)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "ReceiveGroupRing",
			"conversation": conv,
			"mode":         rec.Mode(),
		}).Warn("Ignoring group ring for non-group call")
		return
	}

	if g.JoinState != GroupJoinNotJoined || g.Ring != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "ReceiveGroupRing",
			"conversation": conv,
			"ring_id":      ringID,
			"join_state":   g.JoinState,
			"has_ring":     g.Ring != nil,
		}).Debug("Ring already handled, dropping")
		return
	}

	g.Ring = &RingState{ID: ringID, Ringer: ringer}
}

// ApplyDirectStateChange applies a signaling state change to a direct
// call. A transition to DirectStateEnded deletes the record (and the
// active call, if it referenced this conversation) unless the reason is
// EndedReasonNeedsPermission, in which case the ended record is kept.
//
// The operation is rejected with a diagnostic if no record exists or the
// record is not a direct call; late signaling events legitimately race
// hang-ups.
func (s *Store) ApplyDirectStateChange(conv ConversationID, state DirectCallState, reason EndedReason, acceptedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[conv]
	if !exists {
		logrus.WithFields(logrus.Fields{
			"function":     "ApplyDirectStateChange",
			"conversation": conv,
			"state":        state,
		}).Warn("State change for unknown call, dropping")
		return
	}

	d, ok := rec.(*DirectCall)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "ApplyDirectStateChange",
			"conversation": conv,
			"mode":         rec.Mode(),
		}).Warn("State change for non-direct call, dropping")
		return
	}

	if state == DirectStateEnded && reason != EndedReasonNeedsPermission {
		delete(s.records, conv)
		s.clearActiveIfLocked(conv)
		logrus.WithFields(logrus.Fields{
			"function":     "ApplyDirectStateChange",
			"conversation": conv,
			"reason":       reason,
		}).Info("Direct call ended, record removed")
		return
	}

	d.State = state
	if state == DirectStateEnded {
		d.EndedReason = reason
	}
	if state == DirectStateAccepted && !acceptedAt.IsZero() {
		d.AcceptedAt = acceptedAt
	}
}

// ApplyGroupStateChange replaces the connection state, join state and
// remote roster of a group call. A nil peek keeps the previous snapshot.
// The ring sub-state is cleared the instant the join state leaves
// GroupJoinNotJoined. If the conversation was active and the connection
// dropped to not-connected, the active call is cleared entirely, and a
// PeekIntent is returned so membership gets refreshed after the
// disconnect.
func (s *Store) ApplyGroupStateChange(conv ConversationID, connection GroupConnectionState, join GroupJoinState, localAudio, localVideo bool, peek *PeekInfo, participants []Participant) []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[conv]
	if !exists {
		rec = newGroupRecord(false)
		s.records[conv] = rec
	}

	g, ok := rec.(*GroupCall)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "ApplyGroupStateChange",
			"conversation": conv,
			"mode":         rec.Mode(),
		}).Warn("Group state change for non-group call, dropping")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":     "ApplyGroupStateChange",
		"conversation": conv,
		"connection":   connection,
		"join":         join,
		"participants": len(participants),
	}).Debug("Applying group call state change")

	g.ConnectionState = connection
	g.JoinState = join
	g.Participants = append([]Participant(nil), participants...)
	if peek != nil {
		g.Peek = peek.clone()
	}
	if join != GroupJoinNotJoined {
		g.Ring = nil
	}

	if s.active != nil && s.active.ConversationID == conv {
		if connection == GroupConnectionNotConnected {
			s.active = nil
		} else {
			s.active.HasLocalAudio = localAudio
			s.active.HasLocalVideo = localVideo
			if g.Peek.OtherMemberPresent(s.localIdentity) {
				s.active.OutgoingRing = false
			}
		}
	}

	if connection == GroupConnectionNotConnected {
		return []Intent{PeekIntent{Conversation: conv}}
	}
	return nil
}

// ApplyPeekFulfilled installs a freshly fetched membership snapshot.
//
// The snapshot is applied only while the call is not connected: once
// connected, the media layer's own state changes carry fresher snapshots
// and a late peek result must not overwrite them. If no record exists, a
// default not-connected group record is synthesized so the snapshot has
// somewhere to live.
//
// On application a CallHistoryIntent is returned for the command layer's
// fire-and-forget history update.
func (s *Store) ApplyPeekFulfilled(conv ConversationID, info PeekInfo) []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[conv]
	if !exists {
		rec = newGroupRecord(false)
		s.records[conv] = rec
	}

	g, ok := rec.(*GroupCall)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "ApplyPeekFulfilled",
			"conversation": conv,
			"mode":         rec.Mode(),
		}).Warn("Peek result for non-group call, dropping")
		return nil
	}

	if g.ConnectionState != GroupConnectionNotConnected {
		logrus.WithFields(logrus.Fields{
			"function":     "ApplyPeekFulfilled",
			"conversation": conv,
			"connection":   g.ConnectionState,
		}).Debug("Call connected since peek was issued, discarding stale snapshot")
		return nil
	}

	g.Peek = info.clone()

	if s.active != nil && s.active.ConversationID == conv &&
		g.Peek.OtherMemberPresent(s.localIdentity) {
		s.active.OutgoingRing = false
	}

	return []Intent{CallHistoryIntent{
		Conversation: conv,
		JoinState:    g.JoinState,
		Peek:         g.Peek.clone(),
	}}
}

// ApplyAudioLevels grades and applies raw audio levels for the active
// group call. The update is skipped entirely unless a call is active,
// it is not minimized, and the conversation holds a group record. If
// neither the local nor any remote graded level changed, the state is
// left untouched so downstream consumers see no redundant update.
// The return value reports whether anything changed.
func (s *Store) ApplyAudioLevels(conv ConversationID, localLevel float64, remoteLevels map[uint32]float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ConversationID != conv || s.active.Pip {
		return false
	}

	g, ok := s.records[conv].(*GroupCall)
	if !ok {
		return false
	}

	local := GradeAudioLevel(localLevel)
	remote := make(map[uint32]AudioLevel, len(remoteLevels))
	for demux, raw := range remoteLevels {
		remote[demux] = GradeAudioLevel(raw)
	}

	if local == s.active.LocalAudioLevel && audioLevelsEqual(remote, g.RemoteAudioLevels) {
		return false
	}

	s.active.LocalAudioLevel = local
	g.RemoteAudioLevels = remote
	return true
}

// audioLevelsEqual reports whether two graded level maps are identical.
func audioLevelsEqual(a, b map[uint32]AudioLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for demux, level := range a {
		if other, ok := b[demux]; !ok || other != level {
			return false
		}
	}
	return true
}

// CancelRing clears the ring sub-state of a group call, but only when
// the given ring id matches the stored one exactly. A mismatched id
// means the cancellation is for an older ring and must not cancel a
// newer one.
func (s *Store) CancelRing(conv ConversationID, ringID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.records[conv].(*GroupCall)
	if !ok || g.Ring == nil {
		logrus.WithFields(logrus.Fields{
			"function":     "CancelRing",
			"conversation": conv,
			"ring_id":      ringID,
		}).Debug("No matching ring to cancel")
		return
	}

	if g.Ring.ID != ringID {
		logrus.WithFields(logrus.Fields{
			"function":     "CancelRing",
			"conversation": conv,
			"ring_id":      ringID,
			"current_ring": g.Ring.ID,
		}).Debug("Ring id mismatch, keeping newer ring")
		return
	}

	g.Ring = nil
}

// RemoveConversation deletes the call record and, if it was the active
// conversation, clears the active call. Used for explicit hang-ups and
// for external conversation-deleted events alike.
func (s *Store) RemoveConversation(conv ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[conv]; !exists {
		return
	}
	delete(s.records, conv)
	s.clearActiveIfLocked(conv)
}

// clearActiveIfLocked clears the active call if it references the given
// conversation. Caller holds s.mu.
func (s *Store) clearActiveIfLocked(conv ConversationID) {
	if s.active != nil && s.active.ConversationID == conv {
		s.active = nil
	}
}

// ActivateCall makes an existing call the active one, as happens when
// the user accepts an incoming call. Requires a record to exist.
func (s *Store) ActivateCall(conv ConversationID, hasAudio, hasVideo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[conv]; !exists {
		logrus.WithFields(logrus.Fields{
			"function":     "ActivateCall",
			"conversation": conv,
		}).Warn("Cannot activate unknown call")
		return
	}
	s.setActiveLocked(conv, hasAudio, hasVideo, false)
}

// SetRemoteVideo records whether the remote side of a direct call is
// sending video.
func (s *Store) SetRemoteVideo(conv ConversationID, hasVideo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.records[conv].(*DirectCall)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "SetRemoteVideo",
			"conversation": conv,
		}).Warn("Remote video change for missing or non-direct call")
		return
	}
	d.HasRemoteVideo = hasVideo
}

// SetRemoteSharingScreen records whether the remote side of a direct
// call is sharing their screen.
func (s *Store) SetRemoteSharingScreen(conv ConversationID, sharing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.records[conv].(*DirectCall)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "SetRemoteSharingScreen",
			"conversation": conv,
		}).Warn("Screen share change for missing or non-direct call")
		return
	}
	d.RemoteSharingScreen = sharing
}

// withActive runs fn on the active call, logging a diagnostic and doing
// nothing when no call is active. Stale UI events are expected after a
// call ends.
func (s *Store) withActive(function string, fn func(a *ActiveCall)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		logrus.WithFields(logrus.Fields{
			"function": function,
		}).Warn("No active call, ignoring")
		return
	}
	fn(s.active)
}

// SetLocalAudio sets the local audio toggle on the active call.
func (s *Store) SetLocalAudio(enabled bool) {
	s.withActive("SetLocalAudio", func(a *ActiveCall) { a.HasLocalAudio = enabled })
}

// SetLocalVideo sets the local video toggle on the active call.
func (s *Store) SetLocalVideo(enabled bool) {
	s.withActive("SetLocalVideo", func(a *ActiveCall) { a.HasLocalVideo = enabled })
}

// TogglePip toggles picture-in-picture on the active call.
func (s *Store) TogglePip() {
	s.withActive("TogglePip", func(a *ActiveCall) { a.Pip = !a.Pip })
}

// ToggleSettings toggles the settings dialog flag on the active call.
func (s *Store) ToggleSettings() {
	s.withActive("ToggleSettings", func(a *ActiveCall) { a.SettingsDialogOpen = !a.SettingsDialogOpen })
}

// ToggleParticipantsList toggles the participants panel on the active call.
func (s *Store) ToggleParticipantsList() {
	s.withActive("ToggleParticipantsList", func(a *ActiveCall) { a.ShowParticipantsList = !a.ShowParticipantsList })
}

// SetViewMode sets the layout of the active call UI.
func (s *Store) SetViewMode(mode ViewMode) {
	s.withActive("SetViewMode", func(a *ActiveCall) { a.ViewMode = mode })
}

// SetPresenting records the local screen-share source; nil stops sharing.
func (s *Store) SetPresenting(source *PresentedSource) {
	s.withActive("SetPresenting", func(a *ActiveCall) { a.Presenting = source })
}

// SetOutgoingRing sets the outgoing-ring flag on the active call.
func (s *Store) SetOutgoingRing(enabled bool) {
	s.withActive("SetOutgoingRing", func(a *ActiveCall) { a.OutgoingRing = enabled })
}

// MarkSafetyNumberChanged marks members whose safety number changed
// during the active call.
func (s *Store) MarkSafetyNumberChanged(ids ...uuid.UUID) {
	s.withActive("MarkSafetyNumberChanged", func(a *ActiveCall) {
		for _, id := range ids {
			a.SafetyNumberChanged[id] = struct{}{}
		}
	})
}

// ConfirmSafetyNumber clears the changed-safety-number marker for a member.
func (s *Store) ConfirmSafetyNumber(id uuid.UUID) {
	s.withActive("ConfirmSafetyNumber", func(a *ActiveCall) {
		delete(a.SafetyNumberChanged, id)
	})
}
