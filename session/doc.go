// Package session implements the call session store for callcore.
//
// The store owns the per-conversation CallRecord mapping and the single
// process-wide active call. All mutation happens through the transition
// methods on Store; each transition is applied atomically under the store
// mutex and never blocks on I/O. Transitions that imply follow-up work
// (membership refresh, call history update) return side-effect intents
// for the command layer to execute, keeping the state machine itself free
// of side effects and independently testable.
//
// Stale events are a normal occurrence in this domain: network
// notifications race user-initiated hang-ups, and a peek response can
// arrive after the call it describes has connected. Transitions therefore
// never fail fatally on a missing record or a record of the wrong mode;
// they log a diagnostic and leave the state unchanged.
//
// The design follows established patterns from the toxcore-go codebase:
// - Thread-safe operations with appropriate mutex usage
// - Interface-based design for testability
// - Explicit sum types instead of optional-field presence checks
package session
