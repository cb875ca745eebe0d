package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds inference service settings
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Client talks to the embedding inference service. One request embeds one
// asset; the service returns a fixed-length float vector.
type Client struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a new inference client
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("inference URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		url:    cfg.URL,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// EmbedImage sends the asset bytes to the inference service and returns the
// resulting vector. The vector may be empty; the caller decides whether that
// counts as a failure.
func (c *Client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	reqBody, err := json.Marshal(embedRequest{
		Model: c.model,
		Image: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse inference response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("inference service error: %s", parsed.Error)
	}

	c.logger.Debug("Embedding inferred",
		slog.Int("input_bytes", len(data)),
		slog.Int("dimensions", len(parsed.Embedding)),
	)

	return parsed.Embedding, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
