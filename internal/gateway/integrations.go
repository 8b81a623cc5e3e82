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

// IntegrationsClient calls the external connector service that backs
// integration nodes (spreadsheets, CRMs, contact syncs). The connector
// exposes one POST per provider operation and returns a flat string
// map the flow can pick fields out of.
type IntegrationsClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewIntegrationsClient(baseURL, token string) *IntegrationsClient {
	return &IntegrationsClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (c *IntegrationsClient) Invoke(ctx context.Context, provider, operation string, params map[string]string) (map[string]string, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("connector base URL not configured")
	}

	body, err := json.Marshal(map[string]any{"operation": operation, "params": params})
	if err != nil {
		return nil, fmt.Errorf("marshal connector payload: %w", err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/connectors/"+provider, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
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
			Str("provider", provider).
			Str("operation", operation).
			Dur("elapsed", elapsed).
			Msg("connector request error")
		return nil, fmt.Errorf("connector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("provider", provider).
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("connector request failed")
		return nil, fmt.Errorf("connector returned status %d", resp.StatusCode)
	}

	var fields map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode connector response: %w", err)
	}

	log.Debug().
		Str("provider", provider).
		Str("operation", operation).
		Dur("elapsed", elapsed).
		Msg("connector request successful")

	return fields, nil
}
