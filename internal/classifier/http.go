package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig describes how to reach the classifier service.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPBackend calls an external classifier service over HTTP.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPBackend validates the configuration and returns a ready-to-use backend.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("classifier: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Classify posts the request to the service's classify endpoint.
func (b *HTTPBackend) Classify(ctx context.Context, req Request) (*Result, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: failed to encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/intents/classify", bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("classifier: request build failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(b.apiKey) != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.apiKey))
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("classifier: read response failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("classifier: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("classifier: decode response failed: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("classifier: service error: %s", out.Error)
	}
	return &out, nil
}
