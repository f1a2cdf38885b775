package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIResult is the normalized response from the external moderation API.
type APIResult struct {
	Flagged    bool
	Categories []string
	Confidence float64
}

// APIClient calls the external moderation endpoint. A single failure is
// never retried here; the moderator degrades to local-only evaluation.
type APIClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewAPIClient creates an APIClient. An empty url disables external
// moderation entirely. Non-positive timeout falls back to 30 seconds.
func NewAPIClient(url, apiKey string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an external endpoint is configured.
func (c *APIClient) Enabled() bool {
	return c != nil && c.url != ""
}

type moderateRequest struct {
	Input string `json:"input"`
}

type moderateResponse struct {
	Flagged    bool               `json:"flagged"`
	Categories map[string]bool    `json:"categories"`
	Scores     map[string]float64 `json:"scores"`
}

// Moderate submits content for external scoring. The context carries the
// caller's deadline in addition to the client timeout.
func (c *APIClient) Moderate(ctx context.Context, content string) (*APIResult, error) {
	body, err := json.Marshal(moderateRequest{Input: content})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation api returned status %d", resp.StatusCode)
	}

	var mr moderateResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("failed to decode moderation response: %w", err)
	}

	result := &APIResult{Flagged: mr.Flagged}
	for cat, hit := range mr.Categories {
		if hit {
			result.Categories = append(result.Categories, cat)
		}
	}
	for _, score := range mr.Scores {
		if score > result.Confidence {
			result.Confidence = score
		}
	}
	return result, nil
}
