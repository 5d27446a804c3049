// Package transform talks to the external image transformation provider.
// The provider is opaque: bytes in, transformed bytes out, or an error.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transformer is the contract the generation workflow depends on. Tests
// substitute a scripted implementation.
type Transformer interface {
	Transform(ctx context.Context, data []byte, contentType string) ([]byte, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	style      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, style string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		style:   style,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Transform sends the image bytes to the provider and returns the
// transformed image. The provider enforces its own processing timeout; we
// only bound the HTTP round trip.
func (c *Client) Transform(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	params := url.Values{}
	if c.style != "" {
		params.Add("style", c.style)
	}

	endpointURL := c.baseURL + "/v1/transformations"
	if len(params) > 0 {
		endpointURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transformation failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return out, nil
}
