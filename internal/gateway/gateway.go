// Package gateway defines the outbound messaging-channel contract the
// interpreter sends through. The channel client itself lives outside
// the engine; Client is a thin HTTP bridge to it.
package gateway

import "context"

// ListRow is one selectable row of an interactive list message.
type ListRow struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListMessage is an interactive option list.
type ListMessage struct {
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ButtonText string    `json:"buttonText"`
	Rows       []ListRow `json:"rows"`
}

// ContactCard is a vCard-style contact payload.
type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Location is a shared map position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Gateway is the outbound channel contract. Every send returns the
// channel's opaque message identifier on success.
type Gateway interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendImage(ctx context.Context, to, url, caption string) (string, error)
	SendVideo(ctx context.Context, to, url, caption string) (string, error)
	SendVoice(ctx context.Context, to, url string) (string, error)
	SendFile(ctx context.Context, to, url, filename string) (string, error)
	SendLocation(ctx context.Context, to string, loc Location) (string, error)
	SendContactCard(ctx context.Context, to string, card ContactCard) (string, error)
	SendList(ctx context.Context, to string, list ListMessage) (string, error)
	SendLinkPreview(ctx context.Context, to, url, text string) (string, error)
	SendReaction(ctx context.Context, to, messageID, emoji string) (string, error)
	SendSeen(ctx context.Context, to string) error
	StartTyping(ctx context.Context, to string) error
	StopTyping(ctx context.Context, to string) error

	// Group and label management used by action nodes.
	GroupAddParticipant(ctx context.Context, groupID, phone string) error
	GroupRemoveParticipant(ctx context.Context, groupID, phone string) error
	GroupSetSubject(ctx context.Context, groupID, subject string) error
	AssignLabel(ctx context.Context, to, label string) error
}
