package model

// OccurrenceKind is the canonical kind of an inbound occurrence as
// produced by the ingress layer.
type OccurrenceKind string

const (
	OccurrenceMessage      OccurrenceKind = "message"
	OccurrenceStatusViewed OccurrenceKind = "status_viewed"
	OccurrenceStatusReact  OccurrenceKind = "status_reacted"
	OccurrenceStatusReply  OccurrenceKind = "status_replied"
	OccurrenceGroupJoin    OccurrenceKind = "group_join"
	OccurrenceGroupLeave   OccurrenceKind = "group_leave"
	OccurrenceCallReceived OccurrenceKind = "call_received"
	OccurrenceCallRejected OccurrenceKind = "call_rejected"
	OccurrenceCallAccepted OccurrenceKind = "call_accepted"
	OccurrencePollVote     OccurrenceKind = "poll_vote"
)

// IsEvent reports whether the occurrence is a channel event rather than
// an ordinary message.
func (k OccurrenceKind) IsEvent() bool {
	return k != OccurrenceMessage && k != ""
}

// WaitKind identifies what a flow session is paused on.
type WaitKind string

const (
	WaitNone         WaitKind = ""
	WaitListResponse WaitKind = "list_response"
	WaitReply        WaitKind = "reply"
	WaitRegistration WaitKind = "registration"
)

// NodeKind identifies the behavior of a flow-graph node.
type NodeKind string

const (
	NodeKindTrigger      NodeKind = "trigger"
	NodeKindMessage      NodeKind = "message"
	NodeKindCondition    NodeKind = "condition"
	NodeKindDelay        NodeKind = "delay"
	NodeKindAction       NodeKind = "action"
	NodeKindList         NodeKind = "list"
	NodeKindRegistration NodeKind = "registration"
	NodeKindIntegration  NodeKind = "integration"
	NodeKindSpreadsheet  NodeKind = "spreadsheet"
	NodeKindContacts     NodeKind = "contacts"
	NodeKindSendTo       NodeKind = "sendto"
	NodeKindNote         NodeKind = "note"
)

// Branch handles with engine-defined meaning.
const (
	BranchYes      = "yes"
	BranchNo       = "no"
	BranchReply    = "reply"
	BranchCancel   = "cancel"
	BranchComplete = "complete"
	BranchTimeout  = "timeout"
)
