package modelsource

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

const (
	maxErrorBody    = 4 << 10
	maxArtifactBody = 1 << 20
)

// restClient is the shared JSON-over-HTTP transport of the sources
type restClient struct {
	name       string
	token      string
	httpClient *http.Client
}

func newRESTClient(name, token string, timeout time.Duration) restClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return restClient{
		name:       name,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends body as JSON (when non-nil) and decodes a 200 response into out (when non-nil)
func (c restClient) do(ctx context.Context, op, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return NewSourceError(c.name, op, 0, "failed to marshal request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return NewSourceError(c.name, op, 0, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewSourceError(c.name, op, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return NewSourceError(c.name, op, resp.StatusCode, errorMessage(raw), nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return NewSourceError(c.name, op, resp.StatusCode, "failed to decode response", err)
	}
	return nil
}

// fetch returns the raw body of a 200 GET response, capped at maxArtifactBody
func (c restClient) fetch(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewSourceError(c.name, op, 0, "failed to create request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewSourceError(c.name, op, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, NewSourceError(c.name, op, resp.StatusCode, errorMessage(raw), nil)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBody))
	if err != nil {
		return nil, NewSourceError(c.name, op, resp.StatusCode, "failed to read response", err)
	}
	return raw, nil
}

// errorMessage extracts the message field both registries use in error bodies
func errorMessage(raw []byte) string {
	var body struct {
		Message   string `json:"message"`
		Error     string `json:"error"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.ErrorCode != "" && body.Message != "":
			return fmt.Sprintf("%s: %s", body.ErrorCode, body.Message)
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
