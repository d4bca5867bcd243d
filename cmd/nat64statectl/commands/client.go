package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// errAPIRequest wraps a non-2xx admin API response, carrying the decoded
// error message when available.
var errAPIRequest = errors.New("admin API request failed")

// bibView mirrors internal/server's bibView wire shape.
type bibView struct {
	IPv6     string `json:"ipv6"`
	IPv4     string `json:"ipv4"`
	Proto    string `json:"proto"`
	IsStatic bool   `json:"is_static"`
	Refcount int32  `json:"refcount"`
}

// sessionView mirrors internal/server's sessionView wire shape.
type sessionView struct {
	Local6     string `json:"local6"`
	Remote6    string `json:"remote6"`
	Local4     string `json:"local4"`
	Remote4    string `json:"remote4"`
	Proto      string `json:"proto"`
	State      byte   `json:"state"`
	UpdateTime string `json:"update_time"`
	Expiry     string `json:"expiry_class"`
}

// statsView mirrors internal/server's statsView wire shape.
type statsView struct {
	Proto        string `json:"proto"`
	BibCount     uint64 `json:"bib_count"`
	SessionCount uint64 `json:"session_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// httpClient is a tiny wrapper around *http.Client that knows the admin
// API's base URL and error-response shape.
type httpClient struct {
	baseURL string
	hc      *http.Client
}

func newHTTPClient(baseURL string, hc *http.Client) *httpClient {
	return &httpClient{baseURL: baseURL, hc: hc}
}

// do sends a request and decodes the JSON response body into out (if
// non-nil), returning errAPIRequest wrapping the server's error message on
// a non-2xx status.
func (c *httpClient) do(ctx context.Context, method, path string, out any) error {
	return c.doWithBody(ctx, method, path, nil, out)
}

// doWithBody is do, but JSON-encodes body as the request payload when
// non-nil.
func (c *httpClient) doWithBody(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("%w: %s: %s", errAPIRequest, resp.Status, errResp.Error)
		}
		return fmt.Errorf("%w: %s", errAPIRequest, resp.Status)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}
