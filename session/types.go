package session

import (
	"time"

	"github.com/google/uuid"
)

// ConversationID identifies a conversation. Exactly one CallRecord may
// exist per conversation at a time.
type ConversationID string

// CallMode distinguishes the kinds of call session a conversation can hold.
type CallMode uint8

const (
	// ModeDirect is a one-to-one call.
	ModeDirect CallMode = iota
	// ModeGroup is a multi-party call on a conversation's membership.
	ModeGroup
	// ModeAdhoc is a multi-party call reached through a shareable call
	// link rather than a conversation's membership.
	ModeAdhoc
)

// String returns a human-readable name for logging.
func (m CallMode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeGroup:
		return "group"
	case ModeAdhoc:
		return "adhoc"
	default:
		return "unknown"
	}
}

// DirectCallState represents the lifecycle of a one-to-one call.
type DirectCallState uint8

const (
	// DirectStateNone indicates the call has no signaling state yet
	// (a lobby that has not dialed).
	DirectStateNone DirectCallState = iota
	// DirectStatePrering indicates dialing has started but the remote
	// side is not ringing yet.
	DirectStatePrering
	// DirectStateRinging indicates the call is ringing on one side.
	DirectStateRinging
	// DirectStateAccepted indicates the call is connected.
	DirectStateAccepted
	// DirectStateEnded indicates the call has terminated.
	DirectStateEnded
)

// String returns a human-readable name for logging.
func (s DirectCallState) String() string {
	switch s {
	case DirectStateNone:
		return "none"
	case DirectStatePrering:
		return "prering"
	case DirectStateRinging:
		return "ringing"
	case DirectStateAccepted:
		return "accepted"
	case DirectStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndedReason explains why a direct call ended.
type EndedReason uint8

const (
	// EndedReasonNone indicates the call has not ended.
	EndedReasonNone EndedReason = iota
	// EndedReasonHangup indicates a local hang-up.
	EndedReasonHangup
	// EndedReasonRemoteHangup indicates the remote side hung up.
	EndedReasonRemoteHangup
	// EndedReasonDeclined indicates the callee declined.
	EndedReasonDeclined
	// EndedReasonBusy indicates the callee was in another call.
	EndedReasonBusy
	// EndedReasonGlare indicates both sides dialed each other at once.
	EndedReasonGlare
	// EndedReasonTimeout indicates the call rang out unanswered.
	EndedReasonTimeout
	// EndedReasonError indicates a signaling or media failure.
	EndedReasonError
	// EndedReasonNeedsPermission indicates the call ended pending a
	// message-request approval. The record is kept so the UI can offer
	// to return the call once permission is granted.
	EndedReasonNeedsPermission
)

// GroupConnectionState represents the media connection of a group call.
type GroupConnectionState uint8

const (
	// GroupConnectionNotConnected indicates no media connection exists.
	GroupConnectionNotConnected GroupConnectionState = iota
	// GroupConnectionConnecting indicates a connection attempt is underway.
	GroupConnectionConnecting
	// GroupConnectionConnected indicates media is flowing.
	GroupConnectionConnected
	// GroupConnectionReconnecting indicates the connection dropped and
	// is being re-established.
	GroupConnectionReconnecting
)

// String returns a human-readable name for logging.
func (s GroupConnectionState) String() string {
	switch s {
	case GroupConnectionNotConnected:
		return "not_connected"
	case GroupConnectionConnecting:
		return "connecting"
	case GroupConnectionConnected:
		return "connected"
	case GroupConnectionReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// GroupJoinState represents the local user's membership in a group call.
type GroupJoinState uint8

const (
	// GroupJoinNotJoined indicates the user has not joined.
	GroupJoinNotJoined GroupJoinState = iota
	// GroupJoinJoining indicates a join request is in flight.
	GroupJoinJoining
	// GroupJoinJoined indicates the user is a member of the call.
	GroupJoinJoined
)

// String returns a human-readable name for logging.
func (s GroupJoinState) String() string {
	switch s {
	case GroupJoinNotJoined:
		return "not_joined"
	case GroupJoinJoining:
		return "joining"
	case GroupJoinJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// AudioLevel is a graded loudness bucket. Raw levels are quantized so
// that downstream consumers only observe changes that are worth a
// re-render; inaudible noise always grades to AudioLevelSilent.
type AudioLevel uint8

const (
	// AudioLevelSilent is the zero bucket for inaudible input.
	AudioLevelSilent AudioLevel = iota
	// AudioLevelQuiet is barely audible input.
	AudioLevelQuiet
	// AudioLevelNormal is typical speech.
	AudioLevelNormal
	// AudioLevelLoud is loud speech or noise.
	AudioLevelLoud
)

// Grading thresholds for GradeAudioLevel. Values below silenceThreshold
// quantize to AudioLevelSilent regardless of fluctuation.
const (
	silenceThreshold = 0.01
	quietThreshold   = 0.15
	normalThreshold  = 0.50
)

// GradeAudioLevel maps a raw audio level in [0, 1] to a discrete bucket.
// The mapping is monotonic and maps silence to the zero bucket.
// Out-of-range input is clamped.
func GradeAudioLevel(raw float64) AudioLevel {
	switch {
	case raw < silenceThreshold:
		return AudioLevelSilent
	case raw < quietThreshold:
		return AudioLevelQuiet
	case raw < normalThreshold:
		return AudioLevelNormal
	default:
		return AudioLevelLoud
	}
}

// PeekInfo is a membership snapshot for a group call, independent of
// whether the local user has joined. Snapshots are replaced wholesale on
// each successful peek, never merged field-by-field.
type PeekInfo struct {
	// Members are the service identities currently in the call.
	Members []uuid.UUID
	// Creator is the identity that started the call, when known.
	Creator *uuid.UUID
	// EraID identifies the current call era, when known.
	EraID string
	// MaxDevices is the capacity advertised by the server.
	MaxDevices uint32
	// DeviceCount is the number of devices currently in the call.
	// It may lag or lead the participant roster; both are retained.
	DeviceCount uint32
}

// OtherMemberPresent reports whether the snapshot shows any member
// besides self in the call.
func (p *PeekInfo) OtherMemberPresent(self uuid.UUID) bool {
	if p == nil {
		return false
	}
	for _, m := range p.Members {
		if m != self {
			return true
		}
	}
	return false
}

// clone returns a deep copy of the snapshot.
func (p *PeekInfo) clone() *PeekInfo {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Members = append([]uuid.UUID(nil), p.Members...)
	if p.Creator != nil {
		creator := *p.Creator
		cp.Creator = &creator
	}
	return &cp
}

// RingState is the unresolved ring on a group call. It exists only while
// an incoming or outgoing ring has not yet been resolved into a join.
type RingState struct {
	// ID uniquely identifies the ring; cancellation must match it exactly.
	ID int64
	// Ringer is the identity that initiated the ring.
	Ringer uuid.UUID
}

// Participant describes a remote member of a group call.
type Participant struct {
	// ID is the member's service identity.
	ID uuid.UUID
	// DemuxID multiplexes the member's device on the media stream.
	DemuxID uint32
	// HasAudio reports whether the participant is sending audio.
	HasAudio bool
	// HasVideo reports whether the participant is sending video.
	HasVideo bool
	// Presenting reports whether the participant is screen-sharing.
	Presenting bool
	// SpeakerTime is when the participant last spoke; zero if never.
	SpeakerTime time.Time
	// AspectRatio is the participant's video aspect ratio, 0 if unknown.
	AspectRatio float64
}

// ViewMode is the layout of the in-call UI.
type ViewMode uint8

const (
	// ViewModeGrid shows all participants equally.
	ViewModeGrid ViewMode = iota
	// ViewModeSpeaker focuses the active speaker.
	ViewModeSpeaker
	// ViewModePresentation focuses a shared screen.
	ViewModePresentation
	// ViewModeOverflow shows the focused tile with an overflow strip.
	ViewModeOverflow
)

// PresentedSource identifies the screen or window being shared locally.
type PresentedSource struct {
	ID   string
	Name string
}

// ActiveCall is the single call, if any, presented in the foreground
// call UI. Its ConversationID must reference a live CallRecord; the
// store defends that invariant on read.
type ActiveCall struct {
	ConversationID ConversationID

	// Local media toggles.
	HasLocalAudio   bool
	HasLocalVideo   bool
	LocalAudioLevel AudioLevel

	// UI state with state-machine significance.
	ViewMode             ViewMode
	Pip                  bool
	ShowParticipantsList bool
	SettingsDialogOpen   bool

	// OutgoingRing controls whether joining should ring the other
	// members. It auto-clears the first time a snapshot proves someone
	// else is already in the call and never flips back on its own.
	OutgoingRing bool

	// Presenting is the local screen-share source, nil when not sharing.
	Presenting *PresentedSource

	// SafetyNumberChanged marks members whose safety number changed
	// since the call became active and has not been reconfirmed.
	SafetyNumberChanged map[uuid.UUID]struct{}
}

// clone returns a deep copy of the active call state.
func (a *ActiveCall) clone() *ActiveCall {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Presenting != nil {
		src := *a.Presenting
		cp.Presenting = &src
	}
	cp.SafetyNumberChanged = make(map[uuid.UUID]struct{}, len(a.SafetyNumberChanged))
	for id := range a.SafetyNumberChanged {
		cp.SafetyNumberChanged[id] = struct{}{}
	}
	return &cp
}
