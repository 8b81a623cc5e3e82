package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const requestTimeout = 15 * time.Second

// Client is an HTTP implementation of Gateway against the external
// channel-client service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("gateway base URL not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("gateway request error")
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("gateway request failed")
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode gateway response: %w", err)
	}

	log.Debug().
		Str("path", path).
		Str("messageId", decoded.MessageID).
		Dur("elapsed", elapsed).
		Msg("gateway request successful")

	return decoded.MessageID, nil
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.post(ctx, "/send/text", map[string]string{"to": to, "body": body})
}

func (c *Client) SendImage(ctx context.Context, to, url, caption string) (string, error) {
	return c.post(ctx, "/send/image", map[string]string{"to": to, "url": url, "caption": caption})
}

func (c *Client) SendVideo(ctx context.Context, to, url, caption string) (string, error) {
	return c.post(ctx, "/send/video", map[string]string{"to": to, "url": url, "caption": caption})
}

func (c *Client) SendVoice(ctx context.Context, to, url string) (string, error) {
	return c.post(ctx, "/send/voice", map[string]string{"to": to, "url": url})
}

func (c *Client) SendFile(ctx context.Context, to, url, filename string) (string, error) {
	return c.post(ctx, "/send/file", map[string]string{"to": to, "url": url, "filename": filename})
}

func (c *Client) SendLocation(ctx context.Context, to string, loc Location) (string, error) {
	return c.post(ctx, "/send/location", map[string]any{"to": to, "location": loc})
}

func (c *Client) SendContactCard(ctx context.Context, to string, card ContactCard) (string, error) {
	return c.post(ctx, "/send/contact", map[string]any{"to": to, "contact": card})
}

func (c *Client) SendList(ctx context.Context, to string, list ListMessage) (string, error) {
	return c.post(ctx, "/send/list", map[string]any{"to": to, "list": list})
}

func (c *Client) SendLinkPreview(ctx context.Context, to, url, text string) (string, error) {
	return c.post(ctx, "/send/link", map[string]string{"to": to, "url": url, "text": text})
}

func (c *Client) SendReaction(ctx context.Context, to, messageID, emoji string) (string, error) {
	return c.post(ctx, "/send/reaction", map[string]string{"to": to, "messageId": messageID, "emoji": emoji})
}

func (c *Client) SendSeen(ctx context.Context, to string) error {
	_, err := c.post(ctx, "/chat/seen", map[string]string{"to": to})
	return err
}

func (c *Client) StartTyping(ctx context.Context, to string) error {
	_, err := c.post(ctx, "/chat/typing/start", map[string]string{"to": to})
	return err
}

func (c *Client) StopTyping(ctx context.Context, to string) error {
	_, err := c.post(ctx, "/chat/typing/stop", map[string]string{"to": to})
	return err
}

func (c *Client) GroupAddParticipant(ctx context.Context, groupID, phone string) error {
	_, err := c.post(ctx, "/group/add", map[string]string{"groupId": groupID, "phone": phone})
	return err
}

func (c *Client) GroupRemoveParticipant(ctx context.Context, groupID, phone string) error {
	_, err := c.post(ctx, "/group/remove", map[string]string{"groupId": groupID, "phone": phone})
	return err
}

func (c *Client) GroupSetSubject(ctx context.Context, groupID, subject string) error {
	_, err := c.post(ctx, "/group/subject", map[string]string{"groupId": groupID, "subject": subject})
	return err
}

func (c *Client) AssignLabel(ctx context.Context, to, label string) error {
	_, err := c.post(ctx, "/chat/label", map[string]string{"to": to, "label": label})
	return err
}

var _ Gateway = (*Client)(nil)
