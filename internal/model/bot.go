package model

import (
	"encoding/json"
	"time"
)

// Bot is one tenant's automation definition: a flow graph plus the
// trigger rules that gate entering it. Created and edited by the
// tenant; the engine only reads it.
type Bot struct {
	ID           string           `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	ChannelID    string           `db:"channel_id" json:"channelId"`
	Timezone     string           `db:"timezone" json:"timezone"`
	Enabled      bool             `db:"enabled" json:"enabled"`
	RunLimit     int              `db:"run_limit" json:"runLimit"`
	FlowJSON     json.RawMessage  `db:"flow" json:"flow"`
	TriggerJSON  json.RawMessage  `db:"triggers" json:"triggers"`
	GlobalsJSON  *json.RawMessage `db:"globals" json:"globals,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`
}

// Location resolves the tenant's configured timezone, falling back to
// UTC when it is missing or invalid.
func (b *Bot) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Globals decodes the tenant's global constants, the last layer of
// variable resolution. Never returns nil.
func (b *Bot) Globals() map[string]string {
	out := map[string]string{}
	if b.GlobalsJSON == nil {
		return out
	}
	_ = json.Unmarshal(*b.GlobalsJSON, &out)
	return out
}

// Flow decodes the tenant's graph.
func (b *Bot) Flow() (*Flow, error) {
	return ParseFlow(b.FlowJSON)
}

// Triggers decodes the tenant's trigger definition.
func (b *Bot) Triggers() (*TriggerDefinition, error) {
	return ParseTriggerDefinition(b.TriggerJSON)
}
