package model

import (
	"encoding/json"
	"time"
)

// Contact is one identity (phone or group JID) within a tenant.
type Contact struct {
	ID            string          `db:"id" json:"id"`
	BotID         string          `db:"bot_id" json:"botId"`
	Phone         string          `db:"phone" json:"phone"`
	Name          string          `db:"name" json:"name"`
	IsGroup       bool            `db:"is_group" json:"isGroup"`
	IsChannel     bool            `db:"is_channel" json:"isChannel"`
	IsBotActive   bool            `db:"is_bot_active" json:"isBotActive"`
	TakeoverUntil *time.Time      `db:"takeover_until" json:"takeoverUntil,omitempty"`
	TagsJSON      json.RawMessage `db:"tags" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// Tags decodes the contact's tag list. Never returns an error; a
// malformed column reads as no tags.
func (c *Contact) Tags() []string {
	if len(c.TagsJSON) == 0 {
		return nil
	}
	var tags []string
	_ = json.Unmarshal(c.TagsJSON, &tags)
	return tags
}

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// TakenOver reports whether an operator has manually paused the bot for
// this contact as of now.
func (c *Contact) TakenOver(now time.Time) bool {
	return c.TakeoverUntil != nil && now.Before(*c.TakeoverUntil)
}

// Field returns the named contact field as a string, for contact-field
// trigger conditions and condition nodes.
func (c *Contact) Field(name string) (string, bool) {
	switch name {
	case "name":
		return c.Name, true
	case "phone":
		return c.Phone, true
	case "is_group":
		return boolStr(c.IsGroup), true
	case "is_channel":
		return boolStr(c.IsChannel), true
	case "is_bot_active":
		return boolStr(c.IsBotActive), true
	}
	return "", false
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type CreateContactParams struct {
	BotID     string
	Phone     string
	Name      string
	IsGroup   bool
	IsChannel bool
}
