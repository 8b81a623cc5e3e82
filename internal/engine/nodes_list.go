package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/gateway"
	"github.com/chatform/flow-engine-go/internal/model"
)

// executeList renders the node's option list, filtered by the
// configured validation call, sends it and always suspends the session.
// The stored buttons keep their pre-filter original indexes: edges are
// keyed by original index, whatever subset was displayed.
func (it *Interpreter) executeList(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[ListConfig](node)
	if err != nil {
		return nodeResult{}, err
	}
	if len(cfg.Options) == 0 {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Msg("list node has no options, skipping")
		return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
	}

	buttons := it.filterOptions(ctx, rc, cfg)
	if len(buttons) == 0 {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Msg("every list option filtered out, skipping")
		return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
	}

	title := it.resolver.Resolve(cfg.Title, rc)
	rows := make([]gateway.ListRow, len(buttons))
	for i, b := range buttons {
		rows[i] = gateway.ListRow{
			Title:       b.Label,
			Description: cfg.Options[b.OriginalIndex].Description,
		}
	}

	buttonText := cfg.ButtonText
	if buttonText == "" {
		buttonText = "Options"
	}

	if _, err := it.gw.SendList(ctx, rc.ChatID(), gateway.ListMessage{
		Title:      title,
		Body:       it.resolver.Resolve(cfg.Body, rc),
		ButtonText: buttonText,
		Rows:       rows,
	}); err != nil {
		return nodeResult{}, fmt.Errorf("send list: %w", err)
	}

	state := model.ListWait{
		Title:    title,
		Buttons:  buttons,
		Multiple: cfg.Multiple,
	}
	if err := it.suspend(ctx, rc, node.ID, state, cfg.TimeoutSeconds); err != nil {
		return nodeResult{}, err
	}
	return nodeResult{halt: true}, nil
}

// filterOptions runs the per-option validation call, keeping each
// option's original index. A failing call keeps the option visible.
func (it *Interpreter) filterOptions(ctx context.Context, rc *RunContext, cfg *ListConfig) []model.ListButton {
	buttons := make([]model.ListButton, 0, len(cfg.Options))
	for i, opt := range cfg.Options {
		label := it.resolver.Resolve(opt.Label, rc)
		if cfg.ValidationURL != "" {
			allowed, err := it.validateOption(ctx, rc, cfg.ValidationURL, label)
			if err != nil {
				log.Warn().
					Err(err).
					Str("option", label).
					Msg("list option validation failed, keeping option")
			} else if !allowed {
				continue
			}
		}
		buttons = append(buttons, model.ListButton{OriginalIndex: i, Label: label})
	}
	return buttons
}

func (it *Interpreter) validateOption(ctx context.Context, rc *RunContext, url, label string) (bool, error) {
	payload, err := json.Marshal(map[string]string{
		"botId":  rc.Bot.ID,
		"phone":  rc.Contact.Phone,
		"option": label,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := it.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("validation returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, err
	}
	return decoded.Allowed, nil
}
