package session

// Intent is a side effect requested by a state transition. The store
// itself never performs I/O; transitions that imply follow-up work
// return intents for the command layer (or the peek coordinator) to
// execute after the transition has been applied.
type Intent interface {
	isIntent()
}

// PeekIntent requests a membership refresh for a group conversation.
type PeekIntent struct {
	Conversation ConversationID
}

func (PeekIntent) isIntent() {}

// CallHistoryIntent requests a fire-and-forget call history update
// after a peek snapshot was applied.
type CallHistoryIntent struct {
	Conversation ConversationID
	JoinState    GroupJoinState
	Peek         *PeekInfo
}

func (CallHistoryIntent) isIntent() {}
