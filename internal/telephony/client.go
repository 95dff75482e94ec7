package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// backendClient is the JSON client for the provider backend HTTP surface.
//
// Every endpoint is a simple JSON request/response. A non-2xx status or a
// non-JSON body becomes a *ProviderRequestError with the raw status and
// body preserved for diagnostics.
type backendClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func newBackendClient(baseURL, apiKey string, timeout time.Duration) *backendClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &backendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// postJSON issues a POST and decodes the response into out (out may be nil
// when the response body is irrelevant).
func (c *backendClient) postJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *backendClient) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *backendClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &ProviderRequestError{Endpoint: path, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ProviderRequestError{Endpoint: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &ProviderRequestError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderRequestError{Endpoint: path, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderRequestError{Endpoint: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Non-JSON 2xx bodies are treated the same as failures.
		return &ProviderRequestError{Endpoint: path, Status: resp.StatusCode, Body: string(raw), Err: err}
	}
	return nil
}
