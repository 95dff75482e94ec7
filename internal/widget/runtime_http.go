package widget

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

// HTTPRuntime drives a widget host process over its local control API.
// The vendor payload is served at a fixed, versioned URL by that host;
// this client only cares about the control surface it exposes.
type HTTPRuntime struct {
	baseURL string
	httpc   *http.Client
}

func NewHTTPRuntime(baseURL string, timeout time.Duration) *HTTPRuntime {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRuntime{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRuntime) LoadStage(ctx context.Context, stage string) error {
	return r.post(ctx, "/load", map[string]string{"stage": stage})
}

func (r *HTTPRuntime) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var out struct {
		Ready bool `json:"ready"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false
	}
	return out.Ready
}

func (r *HTTPRuntime) Init(ctx context.Context, token string) error {
	return r.post(ctx, "/init", map[string]string{"token": token})
}

func (r *HTTPRuntime) Show(ctx context.Context) error {
	return r.post(ctx, "/visibility", map[string]bool{"visible": true})
}

func (r *HTTPRuntime) Hide(ctx context.Context) error {
	return r.post(ctx, "/visibility", map[string]bool{"visible": false})
}

func (r *HTTPRuntime) Close(ctx context.Context) error {
	return r.post(ctx, "/close", nil)
}

func (r *HTTPRuntime) post(ctx context.Context, path string, in any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("widget: %s returned %d: %s", path, resp.StatusCode, string(raw))
	}
	return nil
}
