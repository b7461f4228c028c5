package session

import "time"

// CallRecord is the per-conversation call session. It is a closed sum:
// exactly *DirectCall and *GroupCall implement it. Operations that
// assume one variant must no-op with a diagnostic on the other rather
// than relying on field absence.
type CallRecord interface {
	// Mode reports the call mode of this record.
	Mode() CallMode

	// clone returns a deep copy safe to hand outside the store.
	clone() CallRecord
}

// DirectCall is the session state of a one-to-one call.
type DirectCall struct {
	State       DirectCallState
	EndedReason EndedReason

	// AcceptedAt is when the call connected; zero until accepted.
	AcceptedAt time.Time

	IsIncoming  bool
	IsVideoCall bool

	// Remote media indicators.
	HasRemoteVideo      bool
	RemoteSharingScreen bool
}

// Mode reports ModeDirect.
func (d *DirectCall) Mode() CallMode { return ModeDirect }

func (d *DirectCall) clone() CallRecord {
	cp := *d
	return &cp
}

// GroupCall is the session state of a multi-party call. A call reached
// through a shareable link (adhoc) carries the same state but is never
// rung.
type GroupCall struct {
	// Adhoc marks a call-link session rather than a conversation call.
	Adhoc bool

	ConnectionState GroupConnectionState
	JoinState       GroupJoinState

	// Peek is the latest membership snapshot, nil until first resolved.
	Peek *PeekInfo

	// Participants is the ordered remote roster from the media layer.
	// Its length and Peek.DeviceCount may diverge; peek is asynchronous
	// and both are retained.
	Participants []Participant

	// RemoteAudioLevels maps demux id to graded level. Ephemeral.
	RemoteAudioLevels map[uint32]AudioLevel

	// Ring is the unresolved ring sub-state, nil when absent. It is
	// cleared the instant JoinState leaves GroupJoinNotJoined.
	Ring *RingState
}

// Mode reports ModeGroup, or ModeAdhoc for call-link sessions.
func (g *GroupCall) Mode() CallMode {
	if g.Adhoc {
		return ModeAdhoc
	}
	return ModeGroup
}

func (g *GroupCall) clone() CallRecord {
	cp := *g
	cp.Peek = g.Peek.clone()
	cp.Participants = append([]Participant(nil), g.Participants...)
	cp.RemoteAudioLevels = make(map[uint32]AudioLevel, len(g.RemoteAudioLevels))
	for demux, level := range g.RemoteAudioLevels {
		cp.RemoteAudioLevels[demux] = level
	}
	if g.Ring != nil {
		ring := *g.Ring
		cp.Ring = &ring
	}
	return &cp
}

// newGroupRecord returns a default group record in the not-connected,
// not-joined shape. Used when an event arrives for a conversation with
// no existing record (a peek resolving first, or an incoming ring).
func newGroupRecord(adhoc bool) *GroupCall {
	return &GroupCall{
		Adhoc:             adhoc,
		ConnectionState:   GroupConnectionNotConnected,
		JoinState:         GroupJoinNotJoined,
		RemoteAudioLevels: make(map[uint32]AudioLevel),
	}
}
