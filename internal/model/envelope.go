package model

import "time"

// Envelope is the canonical inbound occurrence produced by the ingress
// layer: either an ordinary message or a channel event.
type Envelope struct {
	Kind      OccurrenceKind `json:"kind"`
	BotID     string         `json:"botId"`
	Phone     string         `json:"phone"`
	Name      string         `json:"name,omitempty"`
	IsGroup   bool           `json:"isGroup,omitempty"`
	IsChannel bool           `json:"isChannel,omitempty"`

	// Message content.
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body,omitempty"`
	ListTitle string `json:"listTitle,omitempty"` // title of the list an interactive reply belongs to
	HasMedia  bool   `json:"hasMedia,omitempty"`
	MediaType string `json:"mediaType,omitempty"` // image|video|audio|document

	// Sender context inside groups/channels.
	SenderPhone string `json:"senderPhone,omitempty"`
	SenderName  string `json:"senderName,omitempty"`

	// Event payload for non-message occurrences (call id, status id,
	// poll option, ...).
	EventData map[string]string `json:"eventData,omitempty"`

	ReceivedAt time.Time `json:"receivedAt"`
}

// TriggerHistory is one append-only record of a trigger group firing.
type TriggerHistory struct {
	ID             string    `db:"id" json:"id"`
	BotID          string    `db:"bot_id" json:"botId"`
	ContactID      string    `db:"contact_id" json:"contactId"`
	TriggerGroupID string    `db:"trigger_group_id" json:"triggerGroupId"`
	TriggeredAt    time.Time `db:"triggered_at" json:"triggeredAt"`
}

// FlowRun is one append-only record of a flow execution starting,
// backing the bot-level once-per-user/cooldown policies and the run
// quota.
type FlowRun struct {
	ID        string    `db:"id" json:"id"`
	BotID     string    `db:"bot_id" json:"botId"`
	ContactID string    `db:"contact_id" json:"contactId"`
	StartedAt time.Time `db:"started_at" json:"startedAt"`
}

// ContactVariable is one per-contact key/value pair, last-write-wins.
type ContactVariable struct {
	ContactID string    `db:"contact_id" json:"contactId"`
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	Label     *string   `db:"label" json:"label,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
