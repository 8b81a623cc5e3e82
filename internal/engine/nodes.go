package engine

import (
	"encoding/json"
	"fmt"

	"github.com/chatform/flow-engine-go/internal/model"
)

// Node configs are a closed set: each node kind decodes its Data blob
// into exactly one of the types below, once, at execution time.

// MessageAction is one entry of a message or send-to node's ordered
// action list.
type MessageAction struct {
	Kind string `json:"kind"` // text|image|video|audio|file|contact|location|link|delay|typing|seen|reaction|wait_reply

	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`

	Seconds int `json:"seconds,omitempty"` // delay and typing duration

	Emoji string `json:"emoji,omitempty"` // reaction to the triggering message

	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	LocationName string  `json:"locationName,omitempty"`
	Address      string  `json:"address,omitempty"`

	ContactName  string `json:"contactName,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`

	// wait_reply
	SaveVar        string `json:"saveVar,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type MessageConfig struct {
	Actions []MessageAction `json:"actions"`
}

type ConditionConfig struct {
	Root PredicateTree `json:"root"`
}

type DelayConfig struct {
	Seconds int  `json:"seconds"`
	Typing  bool `json:"typing,omitempty"`
}

// FlowAction is one entry of an action node's list: contact-data
// mutation, bot pause, outbound calls, or gateway side effects.
type FlowAction struct {
	Kind string `json:"kind"` // add_tag|remove_tag|set_var|delete_var|pause_bot|webhook|http_request|send_voice|send_file|send_location|send_contact|link_preview|seen|typing|reaction|group_add|group_remove|group_subject|assign_label

	Tag   string `json:"tag,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	Label string `json:"label,omitempty"`

	PauseMinutes int `json:"pauseMinutes,omitempty"`

	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	ResponseMap map[string]string `json:"responseMap,omitempty"` // response path -> variable name

	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
	Emoji    string `json:"emoji,omitempty"`

	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	LocationName string  `json:"locationName,omitempty"`

	ContactName  string `json:"contactName,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`

	GroupID string `json:"groupId,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Subject string `json:"subject,omitempty"`
}

type ActionConfig struct {
	Actions []FlowAction `json:"actions"`
}

type ListOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type ListConfig struct {
	Title          string       `json:"title"`
	Body           string       `json:"body,omitempty"`
	ButtonText     string       `json:"buttonText,omitempty"`
	Options        []ListOption `json:"options"`
	Multiple       bool         `json:"multiple,omitempty"`
	ValidationURL  string       `json:"validationUrl,omitempty"`
	TimeoutSeconds int          `json:"timeoutSeconds,omitempty"`
}

type RegQuestion struct {
	Key          string   `json:"key"`
	Prompt       string   `json:"prompt"`
	Type         string   `json:"type"` // text|number|phone|email|date|file|choice
	Choices      []string `json:"choices,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

type RegistrationConfig struct {
	Questions       []RegQuestion `json:"questions"`
	CancelKeyword   string        `json:"cancelKeyword,omitempty"`
	CompleteMessage string        `json:"completeMessage,omitempty"`
	SummaryVar      string        `json:"summaryVar,omitempty"`
	WebhookURL      string        `json:"webhookUrl,omitempty"`
	TimeoutSeconds  int           `json:"timeoutSeconds,omitempty"`
}

// IntegrationConfig covers the integration, spreadsheet and contacts
// node kinds: invoke an external operation, map declared response
// fields into contact variables, record an outcome indicator.
type IntegrationConfig struct {
	Provider    string            `json:"provider,omitempty"`
	Operation   string            `json:"operation"`
	Params      map[string]string `json:"params,omitempty"`
	ResponseMap map[string]string `json:"responseMap,omitempty"` // response field -> variable name
	ResultVar   string            `json:"resultVar,omitempty"`
}

type SendToConfig struct {
	Target  string          `json:"target"` // literal phone/group id or a {{variable}}
	Actions []MessageAction `json:"actions"`
}

func decodeConfig[T any](node *model.Node) (*T, error) {
	var cfg T
	if len(node.Data) == 0 {
		return &cfg, nil
	}
	if err := json.Unmarshal(node.Data, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s node %s: %w", node.Kind, node.ID, err)
	}
	return &cfg, nil
}
