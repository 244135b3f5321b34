package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

type ScheduleRequest struct {
	NoteID    string    `json:"note_id"`
	DueAt     time.Time `json:"due_at"`
	AccountID string    `json:"account_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
}

type ControlClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewControlClient returns a client for the daemon at baseURL. token may be
// empty when the control API is not protected; hc may be nil.
func NewControlClient(baseURL, token string, hc *http.Client) (*ControlClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &ControlClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}, nil
}

// Schedule creates a pending post and returns its id.
func (c *ControlClient) Schedule(ctx context.Context, req ScheduleRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/posts", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// PublishNow publishes postID immediately and returns the event id.
func (c *ControlClient) PublishNow(ctx context.Context, postID string) (string, error) {
	var resp struct {
		EventID string `json:"event_id"`
	}
	path := "/api/posts/" + url.PathEscape(postID) + "/publish"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// TriggerSigning asks the daemon for a signing pass.
func (c *ControlClient) TriggerSigning(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/signing/trigger", nil, nil)
}

func (c *ControlClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
