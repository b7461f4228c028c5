// Package callcore implements call session coordination for a messaging
// client.
//
// The package manages the lifecycle of one-to-one ("direct") and
// multi-party ("group", "adhoc") voice/video call sessions, and
// coordinates asynchronous group-call membership refreshes ("peeks") so
// that they are serialized, debounced, and never duplicated per
// conversation. It does not establish media itself; the transport and
// codec layer is consumed as an opaque CallingService capability.
//
// The main entry point is Client, which validates requests against the
// session store, invokes the calling service, and applies the resulting
// state transitions:
//
//	client, err := callcore.NewClient(service, online, localIdentity)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// User starts a group call lobby.
//	if err := client.StartCallLobby(ctx, conv, callcore.LobbyRequest{
//	    Mode:          session.ModeGroup,
//	    HasLocalAudio: true,
//	}); err != nil {
//	    log.Print(err)
//	}
//
//	// Network layer forwards inbound events.
//	client.HandleGroupCallRing(conv, ringID, ringer)
//	client.HandlePeekRequest(conv)
//
// State is owned by the session store (package session); membership
// refresh scheduling lives in package peek. Both are driven exclusively
// through Client.
package callcore
