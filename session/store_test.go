package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testConv = ConversationID("conv-1")

// newTestStore returns a store plus the local identity it was built with.
func newTestStore(t *testing.T) (*Store, uuid.UUID) {
	t.Helper()
	me := uuid.New()
	return NewStore(me), me
}

// TestStartLobbyGroupDefaults verifies a fresh group lobby rings by default.
func TestStartLobbyGroupDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	intents := s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup, HasLocalAudio: true})

	if len(intents) != 1 {
		t.Fatalf("Expected 1 intent, got %d", len(intents))
	}
	if _, ok := intents[0].(PeekIntent); !ok {
		t.Errorf("Expected PeekIntent, got %T", intents[0])
	}

	active, ok := s.Active()
	if !ok {
		t.Fatal("Lobby should set the active call")
	}
	if !active.OutgoingRing {
		t.Error("Empty, ringable conversation should default to outgoing ring on")
	}
	if !active.HasLocalAudio || active.HasLocalVideo {
		t.Error("Active call should carry the requested media toggles")
	}

	rec, ok := s.Record(testConv)
	if !ok {
		t.Fatal("Lobby should create a call record")
	}
	g, isGroup := rec.(*GroupCall)
	if !isGroup {
		t.Fatalf("Expected group record, got %T", rec)
	}
	if g.ConnectionState != GroupConnectionNotConnected || g.JoinState != GroupJoinNotJoined {
		t.Error("Lobby record should start not connected and not joined")
	}
}

// TestStartLobbyRingSuppression verifies the outgoing ring is suppressed
// when the last known snapshot already shows devices in the call.
func TestStartLobbyRingSuppression(t *testing.T) {
	s, _ := newTestStore(t)

	// A peek resolved before the lobby opened.
	s.ApplyPeekFulfilled(testConv, PeekInfo{
		Members:     []uuid.UUID{uuid.New()},
		DeviceCount: 1,
	})

	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})

	active, ok := s.Active()
	if !ok {
		t.Fatal("Lobby should set the active call")
	}
	if active.OutgoingRing {
		t.Error("Outgoing ring should be suppressed when peek shows members present")
	}

	// The preserved snapshot must survive the lobby overwrite.
	rec, _ := s.Record(testConv)
	g := rec.(*GroupCall)
	if g.Peek == nil || g.Peek.DeviceCount != 1 {
		t.Error("Pre-existing peek snapshot should be preserved by StartLobby")
	}
}

// TestStartLobbyRingSuppressionCases covers the remaining suppression rules.
func TestStartLobbyRingSuppressionCases(t *testing.T) {
	t.Run("too big to ring", func(t *testing.T) {
		s, _ := newTestStore(t)
		s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup, TooBigToRing: true})
		active, _ := s.Active()
		if active.OutgoingRing {
			t.Error("Too-big conversation should not ring")
		}
	})

	t.Run("adhoc never rings", func(t *testing.T) {
		s, _ := newTestStore(t)
		s.StartLobby(testConv, LobbyOptions{Mode: ModeAdhoc})
		active, _ := s.Active()
		if active.OutgoingRing {
			t.Error("Call links should not ring")
		}
	})

	t.Run("globally disabled", func(t *testing.T) {
		s, _ := newTestStore(t)
		s.SetRingsEnabled(false)
		s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})
		active, _ := s.Active()
		if active.OutgoingRing {
			t.Error("Ring should be off when globally disabled")
		}
	})

	t.Run("rejoin with visible participants", func(t *testing.T) {
		s, _ := newTestStore(t)
		s.ApplyGroupStateChange(testConv, GroupConnectionNotConnected, GroupJoinNotJoined,
			false, false, nil, []Participant{{ID: uuid.New(), DemuxID: 7}})
		s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})
		active, _ := s.Active()
		if active.OutgoingRing {
			t.Error("Re-joining a call with visible participants should not ring")
		}
	})
}

// TestDuplicateGroupRingIsIdempotent verifies delivering the same ring
// twice yields identical state after the second delivery.
func TestDuplicateGroupRingIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ringer := uuid.New()

	s.ReceiveGroupRing(testConv, 42, ringer)
	first, _ := s.Record(testConv)

	s.ReceiveGroupRing(testConv, 42, ringer)
	second, _ := s.Record(testConv)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Duplicate ring changed state: %+v vs %+v", first, second)
	}

	g := second.(*GroupCall)
	if g.Ring == nil || g.Ring.ID != 42 || g.Ring.Ringer != ringer {
		t.Errorf("Ring sub-state not recorded: %+v", g.Ring)
	}
}

// TestGroupRingDroppedWhenJoined verifies a stale ring cannot reopen a
// call the user already joined.
func TestGroupRingDroppedWhenJoined(t *testing.T) {
	s, _ := newTestStore(t)

	s.ApplyGroupStateChange(testConv, GroupConnectionConnected, GroupJoinJoined,
		true, false, nil, nil)

	s.ReceiveGroupRing(testConv, 42, uuid.New())

	rec, _ := s.Record(testConv)
	if rec.(*GroupCall).Ring != nil {
		t.Error("Ring for an already-joined call must be dropped")
	}
}

// TestRingClearedOnJoin verifies invariant 3: the ring sub-state is
// cleared the instant the join state leaves not-joined.
func TestRingClearedOnJoin(t *testing.T) {
	s, _ := newTestStore(t)
	s.ReceiveGroupRing(testConv, 42, uuid.New())

	s.ApplyGroupStateChange(testConv, GroupConnectionConnecting, GroupJoinJoining,
		true, false, nil, nil)

	rec, _ := s.Record(testConv)
	if rec.(*GroupCall).Ring != nil {
		t.Error("Ring must be cleared once join state leaves not-joined")
	}
}

// TestCancelRingExactMatch verifies cancellation requires an exact ring
// id match so a stale cancel cannot kill a newer ring.
func TestCancelRingExactMatch(t *testing.T) {
	s, _ := newTestStore(t)
	s.ReceiveGroupRing(testConv, 42, uuid.New())

	s.CancelRing(testConv, 41)
	rec, _ := s.Record(testConv)
	if rec.(*GroupCall).Ring == nil {
		t.Fatal("Mismatched ring id must not cancel the ring")
	}

	s.CancelRing(testConv, 42)
	rec, _ = s.Record(testConv)
	if rec.(*GroupCall).Ring != nil {
		t.Error("Matching ring id should clear the ring")
	}
}

// TestDirectCallEndRemovesState verifies a direct call ending (for any
// reason except needs-permission) removes record and active call.
func TestDirectCallEndRemovesState(t *testing.T) {
	s, _ := newTestStore(t)

	s.ReceiveIncomingDirect(testConv, false)
	s.ActivateCall(testConv, true, false)
	if _, ok := s.Active(); !ok {
		t.Fatal("ActivateCall should set the active call")
	}

	s.ApplyDirectStateChange(testConv, DirectStateEnded, EndedReasonRemoteHangup, time.Time{})

	if _, ok := s.Record(testConv); ok {
		t.Error("Ended direct call should have no record")
	}
	if _, ok := s.Active(); ok {
		t.Error("Ended direct call should clear the active call")
	}
}

// TestDirectCallEndNeedsPermissionKeepsRecord verifies the
// needs-permission sentinel keeps the ended record around.
func TestDirectCallEndNeedsPermissionKeepsRecord(t *testing.T) {
	s, _ := newTestStore(t)
	s.ReceiveIncomingDirect(testConv, false)

	s.ApplyDirectStateChange(testConv, DirectStateEnded, EndedReasonNeedsPermission, time.Time{})

	rec, ok := s.Record(testConv)
	if !ok {
		t.Fatal("Needs-permission end should keep the record")
	}
	d := rec.(*DirectCall)
	if d.State != DirectStateEnded || d.EndedReason != EndedReasonNeedsPermission {
		t.Errorf("Unexpected record state: %+v", d)
	}
}

// TestDirectStateChangeWrongMode verifies a direct state change against
// a group record is a no-op.
func TestDirectStateChangeWrongMode(t *testing.T) {
	s, _ := newTestStore(t)
	s.ReceiveGroupRing(testConv, 1, uuid.New())

	s.ApplyDirectStateChange(testConv, DirectStateEnded, EndedReasonHangup, time.Time{})

	rec, ok := s.Record(testConv)
	if !ok {
		t.Fatal("Wrong-mode state change must not delete the record")
	}
	if _, isGroup := rec.(*GroupCall); !isGroup {
		t.Errorf("Record variant changed: %T", rec)
	}
}

// TestStalePeekRejected verifies a peek resolving after the call
// connected does not overwrite the post-connect snapshot.
func TestStalePeekRejected(t *testing.T) {
	s, _ := newTestStore(t)

	// Call starts not connected; a peek is conceptually in flight.
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})

	// The call connects and the media layer supplies snapshot P1.
	p1 := &PeekInfo{EraID: "era-1", DeviceCount: 3, Members: []uuid.UUID{uuid.New()}}
	s.ApplyGroupStateChange(testConv, GroupConnectionConnected, GroupJoinJoined,
		true, false, p1, nil)

	// The stale peek resolves with P2.
	p2 := PeekInfo{EraID: "era-2", DeviceCount: 1}
	intents := s.ApplyPeekFulfilled(testConv, p2)
	if len(intents) != 0 {
		t.Errorf("Stale peek application should produce no intents, got %d", len(intents))
	}

	rec, _ := s.Record(testConv)
	g := rec.(*GroupCall)
	if g.ConnectionState != GroupConnectionConnected || g.JoinState != GroupJoinJoined {
		t.Error("Stale peek must leave connection/join state untouched")
	}
	if g.Peek == nil || g.Peek.EraID != "era-1" {
		t.Errorf("Stale peek overwrote post-connect snapshot: %+v", g.Peek)
	}
}

// TestPeekFulfilledSynthesizesRecord verifies a peek for an unknown
// conversation creates a default not-connected group record.
func TestPeekFulfilledSynthesizesRecord(t *testing.T) {
	s, _ := newTestStore(t)

	intents := s.ApplyPeekFulfilled(testConv, PeekInfo{DeviceCount: 2})

	rec, ok := s.Record(testConv)
	if !ok {
		t.Fatal("Peek should synthesize a record")
	}
	g := rec.(*GroupCall)
	if g.ConnectionState != GroupConnectionNotConnected || g.JoinState != GroupJoinNotJoined {
		t.Error("Synthesized record should be not connected, not joined")
	}
	if g.Peek == nil || g.Peek.DeviceCount != 2 {
		t.Error("Snapshot should be installed on the synthesized record")
	}

	if len(intents) != 1 {
		t.Fatalf("Expected a call history intent, got %d intents", len(intents))
	}
	hist, ok := intents[0].(CallHistoryIntent)
	if !ok {
		t.Fatalf("Expected CallHistoryIntent, got %T", intents[0])
	}
	if hist.Conversation != testConv || hist.Peek.DeviceCount != 2 {
		t.Errorf("Unexpected history intent: %+v", hist)
	}
}

// TestPeekSnapshotReplacedWholesale verifies snapshots replace rather
// than merge.
func TestPeekSnapshotReplacedWholesale(t *testing.T) {
	s, _ := newTestStore(t)
	creator := uuid.New()

	s.ApplyPeekFulfilled(testConv, PeekInfo{
		Members: []uuid.UUID{uuid.New(), uuid.New()},
		Creator: &creator,
		EraID:   "era-1", DeviceCount: 2, MaxDevices: 8,
	})
	s.ApplyPeekFulfilled(testConv, PeekInfo{EraID: "era-2"})

	rec, _ := s.Record(testConv)
	g := rec.(*GroupCall)
	if g.Peek.EraID != "era-2" || len(g.Peek.Members) != 0 || g.Peek.Creator != nil || g.Peek.DeviceCount != 0 {
		t.Errorf("Snapshot was merged instead of replaced: %+v", g.Peek)
	}
}

// TestGroupStateChangeKeepsPeekWhenAbsent verifies a nil peek in a group
// state change keeps the previous snapshot.
func TestGroupStateChangeKeepsPeekWhenAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyPeekFulfilled(testConv, PeekInfo{EraID: "era-1", DeviceCount: 2})

	s.ApplyGroupStateChange(testConv, GroupConnectionConnecting, GroupJoinJoining,
		true, false, nil, nil)

	rec, _ := s.Record(testConv)
	g := rec.(*GroupCall)
	if g.Peek == nil || g.Peek.EraID != "era-1" {
		t.Errorf("Previous snapshot should be kept when none supplied: %+v", g.Peek)
	}
}

// TestGroupDisconnectClearsActive verifies a disconnect on the active
// conversation clears the active call and asks for a refresh.
func TestGroupDisconnectClearsActive(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})
	s.ApplyGroupStateChange(testConv, GroupConnectionConnected, GroupJoinJoined,
		true, false, nil, nil)

	intents := s.ApplyGroupStateChange(testConv, GroupConnectionNotConnected, GroupJoinNotJoined,
		false, false, nil, nil)

	if _, ok := s.Active(); ok {
		t.Error("Disconnect of the active conversation should clear the active call")
	}
	if len(intents) != 1 {
		t.Fatalf("Expected a peek intent after disconnect, got %d intents", len(intents))
	}
	if _, ok := intents[0].(PeekIntent); !ok {
		t.Errorf("Expected PeekIntent, got %T", intents[0])
	}
}

// TestOutgoingRingAutoClears verifies the ring flag flips off the first
// time a snapshot proves someone else is in the call, and stays off.
func TestOutgoingRingAutoClears(t *testing.T) {
	s, me := newTestStore(t)
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})

	active, _ := s.Active()
	if !active.OutgoingRing {
		t.Fatal("Fresh lobby should ring")
	}

	// A snapshot containing only ourselves must not clear the flag.
	s.ApplyPeekFulfilled(testConv, PeekInfo{Members: []uuid.UUID{me}, DeviceCount: 1})
	active, _ = s.Active()
	if !active.OutgoingRing {
		t.Error("Snapshot showing only us should not clear outgoing ring")
	}

	s.ApplyPeekFulfilled(testConv, PeekInfo{Members: []uuid.UUID{me, uuid.New()}, DeviceCount: 2})
	active, _ = s.Active()
	if active.OutgoingRing {
		t.Error("Snapshot showing another member should clear outgoing ring")
	}
}

// TestAudioLevelNoOpSuppression verifies identical graded snapshots do
// not produce a second update.
func TestAudioLevelNoOpSuppression(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup, HasLocalAudio: true})

	remote := map[uint32]float64{7: 0.6, 9: 0.0}
	if !s.ApplyAudioLevels(testConv, 0.4, remote) {
		t.Fatal("First level application should change state")
	}
	if s.ApplyAudioLevels(testConv, 0.4, remote) {
		t.Error("Identical levels should be suppressed")
	}

	// Same buckets, slightly different raw values: still suppressed.
	if s.ApplyAudioLevels(testConv, 0.41, map[uint32]float64{7: 0.62, 9: 0.001}) {
		t.Error("Levels grading to the same buckets should be suppressed")
	}

	// Crossing a bucket boundary changes state again.
	if !s.ApplyAudioLevels(testConv, 0.05, remote) {
		t.Error("Level crossing a bucket boundary should apply")
	}
}

// TestAudioLevelsIgnoredWhenMinimized verifies pip suppresses level updates.
func TestAudioLevelsIgnoredWhenMinimized(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})
	s.TogglePip()

	if s.ApplyAudioLevels(testConv, 0.9, nil) {
		t.Error("Levels must be ignored while minimized")
	}
}

// TestAudioLevelsRequireGroupRecord verifies levels are ignored without
// a group record or an active call.
func TestAudioLevelsRequireGroupRecord(t *testing.T) {
	s, _ := newTestStore(t)

	if s.ApplyAudioLevels(testConv, 0.9, nil) {
		t.Error("Levels with no active call must be ignored")
	}

	s.StartDirectOutgoing(testConv, false)
	if s.ApplyAudioLevels(testConv, 0.9, nil) {
		t.Error("Levels for a direct call must be ignored")
	}
}

// TestRemoveConversationClearsActive verifies removal tears down the
// record and the active call together.
func TestRemoveConversationClearsActive(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})

	s.RemoveConversation(testConv)

	if _, ok := s.Record(testConv); ok {
		t.Error("Record should be deleted")
	}
	if _, ok := s.Active(); ok {
		t.Error("Active call should be cleared")
	}
	if s.CallCount() != 0 {
		t.Errorf("Expected empty store, got %d records", s.CallCount())
	}
}

// TestActiveInvariantDefended verifies that an active call referencing a
// missing record is reported as "no active call" rather than returned.
func TestActiveInvariantDefended(t *testing.T) {
	s, _ := newTestStore(t)

	// Corrupt state directly; this cannot happen through the public API.
	s.mu.Lock()
	s.active = &ActiveCall{ConversationID: "dangling"}
	s.mu.Unlock()

	if _, ok := s.Active(); ok {
		t.Error("Dangling active call must be treated as no active call")
	}
}

// TestTogglesRequireActiveCall verifies toggle operations without an
// active call are diagnostic no-ops.
func TestTogglesRequireActiveCall(t *testing.T) {
	s, _ := newTestStore(t)

	// None of these should panic or create state.
	s.TogglePip()
	s.ToggleSettings()
	s.ToggleParticipantsList()
	s.SetViewMode(ViewModeSpeaker)
	s.SetPresenting(&PresentedSource{ID: "screen:0"})
	s.SetOutgoingRing(true)
	s.SetLocalAudio(true)
	s.MarkSafetyNumberChanged(uuid.New())

	if _, ok := s.Active(); ok {
		t.Error("Toggles must not create an active call")
	}
}

// TestSafetyNumberMarkers verifies marking and confirming safety number
// changes on the active call.
func TestSafetyNumberMarkers(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartLobby(testConv, LobbyOptions{Mode: ModeGroup})

	a, b := uuid.New(), uuid.New()
	s.MarkSafetyNumberChanged(a, b)

	active, _ := s.Active()
	if len(active.SafetyNumberChanged) != 2 {
		t.Fatalf("Expected 2 marked members, got %d", len(active.SafetyNumberChanged))
	}

	s.ConfirmSafetyNumber(a)
	active, _ = s.Active()
	if _, still := active.SafetyNumberChanged[a]; still {
		t.Error("Confirmed member should be unmarked")
	}
	if _, kept := active.SafetyNumberChanged[b]; !kept {
		t.Error("Unconfirmed member should stay marked")
	}
}

// TestRemoteMediaFlags verifies direct call remote video/screen updates
// and their wrong-mode no-ops.
func TestRemoteMediaFlags(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartDirectOutgoing(testConv, true)

	s.SetRemoteVideo(testConv, true)
	s.SetRemoteSharingScreen(testConv, true)

	rec, _ := s.Record(testConv)
	d := rec.(*DirectCall)
	if !d.HasRemoteVideo || !d.RemoteSharingScreen {
		t.Errorf("Remote media flags not applied: %+v", d)
	}

	// Wrong mode is a no-op.
	other := ConversationID("group-conv")
	s.ReceiveGroupRing(other, 1, uuid.New())
	s.SetRemoteVideo(other, true)
}

// TestRecordReturnsCopy verifies mutations of a returned record do not
// leak back into the store.
func TestRecordReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyPeekFulfilled(testConv, PeekInfo{EraID: "era-1", DeviceCount: 1})

	rec, _ := s.Record(testConv)
	rec.(*GroupCall).Peek.EraID = "mutated"

	rec2, _ := s.Record(testConv)
	if rec2.(*GroupCall).Peek.EraID != "era-1" {
		t.Error("Record must return a copy, not the stored instance")
	}
}

// TestAcceptedTimeRecorded verifies the accepted timestamp lands on the
// record.
func TestAcceptedTimeRecorded(t *testing.T) {
	s, _ := newTestStore(t)
	s.ReceiveIncomingDirect(testConv, false)

	at := time.Now()
	s.ApplyDirectStateChange(testConv, DirectStateAccepted, EndedReasonNone, at)

	rec, _ := s.Record(testConv)
	d := rec.(*DirectCall)
	if d.State != DirectStateAccepted || !d.AcceptedAt.Equal(at) {
		t.Errorf("Accepted state not recorded: %+v", d)
	}
}
