package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/gateway"
	"github.com/chatform/flow-engine-go/internal/model"
)

// executeAction runs the node's side-effect list: contact mutation, bot
// pause, outbound HTTP, and gateway effects. Each action fails
// independently.
func (it *Interpreter) executeAction(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[ActionConfig](node)
	if err != nil {
		return nodeResult{}, err
	}

	for _, action := range cfg.Actions {
		if err := it.runFlowAction(ctx, rc, action); err != nil {
			log.Error().
				Err(err).
				Str("botId", rc.Bot.ID).
				Str("contactId", rc.Contact.ID).
				Str("nodeId", node.ID).
				Str("action", action.Kind).
				Msg("flow action failed")
		}
	}

	return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
}

func (it *Interpreter) runFlowAction(ctx context.Context, rc *RunContext, action FlowAction) error {
	switch action.Kind {
	case "add_tag":
		tag := it.resolver.Resolve(action.Tag, rc)
		if tag == "" || rc.Contact.HasTag(tag) {
			return nil
		}
		tags := append(rc.Contact.Tags(), tag)
		if err := it.contacts.UpdateTags(ctx, rc.Contact.ID, tags); err != nil {
			return err
		}
		rc.Contact.TagsJSON = mustTags(tags)
		return nil

	case "remove_tag":
		tag := it.resolver.Resolve(action.Tag, rc)
		var tags []string
		for _, t := range rc.Contact.Tags() {
			if t != tag {
				tags = append(tags, t)
			}
		}
		if err := it.contacts.UpdateTags(ctx, rc.Contact.ID, tags); err != nil {
			return err
		}
		rc.Contact.TagsJSON = mustTags(tags)
		return nil

	case "set_var":
		var label *string
		if action.Label != "" {
			label = &action.Label
		}
		it.storeVar(ctx, rc, action.Key, it.resolver.Resolve(action.Value, rc), label)
		return nil

	case "delete_var":
		if err := it.vars.Delete(ctx, rc.Contact.ID, action.Key); err != nil {
			return err
		}
		rc.DeleteVar(action.Key)
		return nil

	case "pause_bot":
		if action.PauseMinutes > 0 {
			until := it.clock.Now().Add(time.Duration(action.PauseMinutes) * time.Minute)
			return it.contacts.SetTakeoverUntil(ctx, rc.Contact.ID, &until)
		}
		return it.contacts.SetBotActive(ctx, rc.Contact.ID, false)

	case "webhook":
		return it.postWebhook(ctx, rc, action.URL)

	case "http_request":
		return it.runHTTPRequest(ctx, rc, action)

	case "send_voice":
		_, err := it.gw.SendVoice(ctx, rc.ChatID(), action.URL)
		return err
	case "send_file":
		_, err := it.gw.SendFile(ctx, rc.ChatID(), action.URL, action.Filename)
		return err
	case "send_location":
		_, err := it.gw.SendLocation(ctx, rc.ChatID(), gateway.Location{
			Latitude:  action.Latitude,
			Longitude: action.Longitude,
			Name:      action.LocationName,
		})
		return err
	case "send_contact":
		_, err := it.gw.SendContactCard(ctx, rc.ChatID(), gateway.ContactCard{
			Name:  it.resolver.Resolve(action.ContactName, rc),
			Phone: it.resolver.Resolve(action.ContactPhone, rc),
		})
		return err
	case "link_preview":
		_, err := it.gw.SendLinkPreview(ctx, rc.ChatID(), action.URL, it.resolver.Resolve(action.Text, rc))
		return err
	case "seen":
		return it.gw.SendSeen(ctx, rc.ChatID())
	case "typing":
		if err := it.gw.StartTyping(ctx, rc.ChatID()); err != nil {
			return err
		}
		return it.gw.StopTyping(ctx, rc.ChatID())
	case "reaction":
		if rc.Envelope == nil || rc.Envelope.MessageID == "" {
			return nil
		}
		_, err := it.gw.SendReaction(ctx, rc.ChatID(), rc.Envelope.MessageID, action.Emoji)
		return err

	case "group_add":
		return it.gw.GroupAddParticipant(ctx, action.GroupID, it.resolver.Resolve(action.Phone, rc))
	case "group_remove":
		return it.gw.GroupRemoveParticipant(ctx, action.GroupID, it.resolver.Resolve(action.Phone, rc))
	case "group_subject":
		return it.gw.GroupSetSubject(ctx, action.GroupID, it.resolver.Resolve(action.Subject, rc))
	case "assign_label":
		return it.gw.AssignLabel(ctx, rc.ChatID(), action.Label)
	}

	log.Warn().Str("kind", action.Kind).Msg("unknown flow action kind, skipping")
	return nil
}

// postWebhook ships the contact's context to an author-configured URL.
func (it *Interpreter) postWebhook(ctx context.Context, rc *RunContext, url string) error {
	if url == "" {
		return nil
	}
	payload := map[string]any{
		"botId":     rc.Bot.ID,
		"contactId": rc.Contact.ID,
		"phone":     rc.Contact.Phone,
		"name":      rc.Contact.Name,
		"variables": rc.Vars,
	}
	if rc.Envelope != nil {
		payload["message"] = rc.Envelope.Body
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := it.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// runHTTPRequest performs a generic author-configured call and maps
// response paths into contact variables.
func (it *Interpreter) runHTTPRequest(ctx context.Context, rc *RunContext, action FlowAction) error {
	method := strings.ToUpper(action.Method)
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if action.Body != "" {
		reqBody = strings.NewReader(it.resolver.Resolve(action.Body, rc))
	}

	req, err := http.NewRequestWithContext(ctx, method, it.resolver.Resolve(action.URL, rc), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range action.Headers {
		req.Header.Set(k, it.resolver.Resolve(v, rc))
	}
	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := it.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if len(action.ResponseMap) == 0 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for path, varName := range action.ResponseMap {
		if value, ok := lookupPath(decoded, path); ok {
			it.storeVar(ctx, rc, varName, value, nil)
		}
	}
	return nil
}

// executeIntegration covers the integration, spreadsheet and contacts
// kinds: invoke, map response fields to variables, record an outcome
// indicator variable.
func (it *Interpreter) executeIntegration(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[IntegrationConfig](node)
	if err != nil {
		return nodeResult{}, err
	}
	if it.integrations == nil {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Msg("no integrations collaborator configured, skipping")
		return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
	}

	provider := cfg.Provider
	if provider == "" {
		provider = string(node.Kind)
	}

	params := make(map[string]string, len(cfg.Params))
	for k, v := range cfg.Params {
		params[k] = it.resolver.Resolve(v, rc)
	}

	fields, err := it.integrations.Invoke(ctx, provider, cfg.Operation, params)
	if err != nil {
		log.Error().
			Err(err).
			Str("provider", provider).
			Str("operation", cfg.Operation).
			Str("nodeId", node.ID).
			Msg("integration call failed")
		it.storeVar(ctx, rc, cfg.ResultVar, "error", nil)
		return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
	}

	for field, varName := range cfg.ResponseMap {
		if value, ok := fields[field]; ok {
			it.storeVar(ctx, rc, varName, value, nil)
		}
	}
	it.storeVar(ctx, rc, cfg.ResultVar, "success", nil)

	return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
}

// lookupPath resolves a dot-separated path in decoded JSON to a string.
func lookupPath(data any, path string) (string, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return boolField(v), true
	case nil:
		return "", false
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}

func mustTags(tags []string) json.RawMessage {
	if tags == nil {
		tags = []string{}
	}
	data, _ := json.Marshal(tags)
	return data
}
