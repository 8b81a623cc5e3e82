package model

import "encoding/json"

// ConditionKind enumerates the trigger condition types.
type ConditionKind string

const (
	ConditionAny                ConditionKind = "any"
	ConditionContains           ConditionKind = "contains"
	ConditionStartsWith         ConditionKind = "starts_with"
	ConditionExact              ConditionKind = "exact"
	ConditionRegex              ConditionKind = "regex"
	ConditionFirstMessage       ConditionKind = "first_message"
	ConditionContactField       ConditionKind = "contact_field"
	ConditionHasTag             ConditionKind = "has_tag"
	ConditionNotHasTag          ConditionKind = "not_has_tag"
	ConditionQuietFor           ConditionKind = "quiet_for"
	ConditionNotTriggeredWithin ConditionKind = "not_triggered_within"

	// Event-only conditions: satisfiable only through the event router,
	// never by ordinary message text.
	ConditionStatusViewed ConditionKind = "status_viewed"
	ConditionStatusReact  ConditionKind = "status_reacted"
	ConditionStatusReply  ConditionKind = "status_replied"
	ConditionGroupJoin    ConditionKind = "group_join"
	ConditionGroupLeave   ConditionKind = "group_leave"
	ConditionCallReceived ConditionKind = "call_received"
	ConditionCallRejected ConditionKind = "call_rejected"
	ConditionCallAccepted ConditionKind = "call_accepted"
	ConditionPollVote     ConditionKind = "poll_vote"
)

// IsEventOnly reports whether the condition can only be satisfied via
// the event router.
func (k ConditionKind) IsEventOnly() bool {
	switch k {
	case ConditionStatusViewed, ConditionStatusReact, ConditionStatusReply,
		ConditionGroupJoin, ConditionGroupLeave,
		ConditionCallReceived, ConditionCallRejected, ConditionCallAccepted,
		ConditionPollVote:
		return true
	}
	return false
}

// GroupScoped reports whether the condition implies the trigger group
// should accept group-chat occurrences even without an explicit source
// flag.
func (k ConditionKind) GroupScoped() bool {
	return k == ConditionGroupJoin || k == ConditionGroupLeave || k == ConditionPollVote
}

// ChannelScoped is the channel analogue of GroupScoped.
func (k ConditionKind) ChannelScoped() bool {
	return k == ConditionStatusViewed || k == ConditionStatusReact || k == ConditionStatusReply
}

// TriggerCondition is one AND-term of a trigger group.
type TriggerCondition struct {
	Kind   ConditionKind `json:"kind"`
	Value  string        `json:"value,omitempty"`  // text to match, tag name, field value
	Field  string        `json:"field,omitempty"`  // contact field for contact_field
	Op     string        `json:"op,omitempty"`     // comparison operator for contact_field
	Amount int           `json:"amount,omitempty"` // window size for quiet_for / not_triggered_within
	Unit   string        `json:"unit,omitempty"`   // minutes|hours|days
}

// SourceFilter restricts which chat kinds a trigger group accepts.
type SourceFilter struct {
	Direct  bool `json:"direct"`
	Group   bool `json:"group"`
	Channel bool `json:"channel"`
}

// ActiveHours is a daily time window in the tenant's timezone. From and
// To are "HH:MM"; a To numerically before From wraps past midnight.
type ActiveHours struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Cooldown is the minimum gap between successive triggers of the same
// group for the same contact.
type Cooldown struct {
	Amount int    `json:"amount"`
	Unit   string `json:"unit"` // minutes|hours|days
}

// TriggerGroup is an ordered AND-set of conditions plus group policy.
// Groups are tried in declaration order; the first full match wins.
type TriggerGroup struct {
	ID          string             `json:"id"`
	Conditions  []TriggerCondition `json:"conditions"`
	Sources     SourceFilter       `json:"sources"`
	ActiveHours *ActiveHours       `json:"activeHours,omitempty"`
	Cooldown    *Cooldown          `json:"cooldown,omitempty"`
	OncePerUser bool               `json:"oncePerUser,omitempty"`
}

// HasEventCondition reports whether any condition in the group is
// event-only.
func (g *TriggerGroup) HasEventCondition() bool {
	for _, c := range g.Conditions {
		if c.Kind.IsEventOnly() {
			return true
		}
	}
	return false
}

// TriggerPolicy is the bot-level policy layered on top of group
// matching for ordinary message triggers. OncePerUser here is checked
// against the run log (ever started a flow, any group), and Cooldown
// against the most recent run.
type TriggerPolicy struct {
	ActiveHours *ActiveHours `json:"activeHours,omitempty"`
	Cooldown    *Cooldown    `json:"cooldown,omitempty"`
	OncePerUser bool         `json:"oncePerUser,omitempty"`
}

// TriggerDefinition is a bot's complete trigger configuration.
type TriggerDefinition struct {
	Groups []TriggerGroup `json:"groups"`
	Policy *TriggerPolicy `json:"policy,omitempty"`
}

func ParseTriggerDefinition(raw json.RawMessage) (*TriggerDefinition, error) {
	if len(raw) == 0 {
		return &TriggerDefinition{}, nil
	}
	var def TriggerDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return &def, nil
}
