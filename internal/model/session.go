package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is the durable record that a contact's flow execution is
// paused awaiting input. At most one exists per (bot, contact); absence
// means idle and eligible for trigger matching.
type Session struct {
	BotID         string          `db:"bot_id" json:"botId"`
	ContactID     string          `db:"contact_id" json:"contactId"`
	CurrentNodeID string          `db:"current_node_id" json:"currentNodeId"`
	WaitingFor    WaitKind        `db:"waiting_for" json:"waitingFor"`
	WaitingData   json.RawMessage `db:"waiting_data" json:"waitingData"`
	ExpiresAt     *time.Time      `db:"expires_at" json:"expiresAt,omitempty"`
	Version       int             `db:"version" json:"version"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// Expired reports whether the session's deadline has passed. Sessions
// without a deadline never expire.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// ListButton is one option of a shown list, keyed by its index in the
// node's configured option set before any validation filtering.
type ListButton struct {
	OriginalIndex int    `json:"originalIndex"`
	Label         string `json:"label"`
}

// ListWait is the payload of a WaitListResponse session.
type ListWait struct {
	Title    string       `json:"title"`
	Buttons  []ListButton `json:"buttons"`
	Multiple bool         `json:"multiple,omitempty"`
}

// ReplyWait is the payload of a WaitReply session.
type ReplyWait struct {
	SaveVar string `json:"saveVar,omitempty"`
}

// RegistrationWait is the payload of a WaitRegistration session.
type RegistrationWait struct {
	QuestionIndex int               `json:"questionIndex"`
	Answers       map[string]string `json:"answers,omitempty"`
	CancelKeyword string            `json:"cancelKeyword,omitempty"`
}

// WaitState is the decoded waiting payload of a session, one variant
// per WaitKind.
type WaitState interface {
	Kind() WaitKind
}

func (ListWait) Kind() WaitKind         { return WaitListResponse }
func (ReplyWait) Kind() WaitKind        { return WaitReply }
func (RegistrationWait) Kind() WaitKind { return WaitRegistration }

// WaitState decodes the session's waiting payload once, at load time.
func (s *Session) WaitState() (WaitState, error) {
	switch s.WaitingFor {
	case WaitListResponse:
		var w ListWait
		if err := json.Unmarshal(s.WaitingData, &w); err != nil {
			return nil, fmt.Errorf("decode list wait: %w", err)
		}
		return w, nil
	case WaitReply:
		var w ReplyWait
		if len(s.WaitingData) > 0 {
			if err := json.Unmarshal(s.WaitingData, &w); err != nil {
				return nil, fmt.Errorf("decode reply wait: %w", err)
			}
		}
		return w, nil
	case WaitRegistration:
		var w RegistrationWait
		if err := json.Unmarshal(s.WaitingData, &w); err != nil {
			return nil, fmt.Errorf("decode registration wait: %w", err)
		}
		return w, nil
	}
	return nil, fmt.Errorf("unknown wait kind %q", s.WaitingFor)
}

// NewSession builds a session record for the given wait state.
func NewSession(botID, contactID, nodeID string, state WaitState, expiresAt *time.Time) (*Session, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode wait state: %w", err)
	}
	return &Session{
		BotID:         botID,
		ContactID:     contactID,
		CurrentNodeID: nodeID,
		WaitingFor:    state.Kind(),
		WaitingData:   data,
		ExpiresAt:     expiresAt,
	}, nil
}
