// Package safety evaluates commands against the org's safety policy before
// any worker can run them. The engine treats the gateway as advisory input
// and owns the resulting state transitions.
package safety

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
	StatusApproved  = "approved"
	StatusNeedsHITL = "needs_hitl"
	StatusRejected  = "rejected"
)

// Verdict is the safety review outcome for a single command.
type Verdict struct {
	Status      string   `json:"status"`
	Reasons     []string `json:"reasons,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`
	ReviewedAt  string   `json:"reviewedAt,omitempty"`
	Reviewer    string   `json:"reviewer,omitempty"`
}

// Review describes the command under evaluation.
type Review struct {
	OrgID       string         `json:"orgId"`
	SessionID   string         `json:"sessionId"`
	CommandID   string         `json:"commandId"`
	CommandType string         `json:"commandType"`
	Payload     map[string]any `json:"payload,omitempty"`
	IssuedBy    string         `json:"issuedBy"`
}

type Gateway interface {
	Evaluate(ctx context.Context, review Review) (Verdict, error)
}

// Client calls an external safety gateway over HTTP.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// GatewayError is a non-2xx response from the safety gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("safety gateway returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) Evaluate(ctx context.Context, review Review) (Verdict, error) {
	var verdict Verdict
	if err := c.do(ctx, http.MethodPost, "/v0/reviews", review, &verdict); err != nil {
		return Verdict{}, err
	}
	if verdict.Status == "" {
		return Verdict{}, fmt.Errorf("safety gateway returned empty status")
	}
	switch verdict.Status {
	case StatusApproved, StatusNeedsHITL, StatusRejected:
	default:
		return Verdict{}, fmt.Errorf("safety gateway returned unknown status %q", verdict.Status)
	}
	return verdict, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Static approves everything. Used when no gateway is configured and as the
// fixture gateway in tests.
type Static struct {
	Verdict Verdict
	Err     error
}

func (s Static) Evaluate(ctx context.Context, review Review) (Verdict, error) {
	if s.Err != nil {
		return Verdict{}, s.Err
	}
	if s.Verdict.Status == "" {
		return Verdict{Status: StatusApproved}, nil
	}
	return s.Verdict, nil
}
