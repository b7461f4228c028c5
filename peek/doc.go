// Package peek coordinates group-call membership refreshes.
//
// Membership-change notifications arrive in bursts: many participants
// can join or leave a call within the same second, and refreshing on
// every notification would flood the network. A single debounce without
// re-queueing would instead miss the final membership state whenever a
// notification lands while a refresh is already in flight.
//
// The Coordinator therefore maintains one independent queue per
// conversation with single-flight semantics: at most one peek operation
// is in flight per conversation, requests arriving during the debounce
// window coalesce into the upcoming operation, and requests arriving
// after the operation was issued guarantee exactly one trailing rerun.
// Before each refresh the coordinator waits out a quiescence interval,
// waits for network connectivity, and re-checks that the call is still
// not connected; a call that connected in the meantime is left to the
// media layer's own state changes.
//
// Queue entries are removed as soon as they go idle so the queue map
// stays bounded over the life of the process.
package peek
