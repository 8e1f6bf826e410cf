package lexlinesdk

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

// Client is a minimal Lexline HTTP API client.
type Client struct {
	BaseURL     string
	OrgID       string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// Command represents the API command model (partial).
type Command struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	SessionID   string         `json:"session_id"`
	CommandType string         `json:"command_type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      string         `json:"status"`
	Priority    int            `json:"priority"`
	Result      map[string]any `json:"result,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Job struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	CommandID string         `json:"command_id"`
	Worker    string         `json:"worker"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Session struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Status string `json:"status"`
}

// Envelope is the consistent {command, job, session} read of one command.
type Envelope struct {
	Command Command `json:"command"`
	Job     Job     `json:"job"`
	Session Session `json:"session"`
}

type Connector struct {
	ID            string `json:"id"`
	OrgID         string `json:"org_id"`
	ConnectorType string `json:"connector_type"`
	Name          string `json:"name"`
	Status        string `json:"status"`
}

type IntakeOutcome struct {
	Status      string         `json:"status"`
	Code        string         `json:"code,omitempty"`
	CommandID   string         `json:"commandId,omitempty"`
	JobID       string         `json:"jobId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Verdict     map[string]any `json:"verdict,omitempty"`
	Reasons     []string       `json:"reasons,omitempty"`
	Mitigations []string       `json:"mitigations,omitempty"`
}

type ClaimOutcome struct {
	Kind     string    `json:"kind"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

type CompletionOutcome struct {
	Kind   string `json:"kind"`
	Status string `json:"status,omitempty"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCommandInput carries the fields of a command enqueue call.
type CreateCommandInput struct {
	SessionID    string         `json:"session_id,omitempty"`
	CommandType  string         `json:"command_type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	ScheduledFor string         `json:"scheduled_for,omitempty"`
	Worker       string         `json:"worker,omitempty"`
	DomainAgent  string         `json:"domain_agent,omitempty"`
}

// CreateCommand enqueues a command for the client's org.
func (c *Client) CreateCommand(ctx context.Context, in CreateCommandInput) (IntakeOutcome, error) {
	var resp IntakeOutcome
	err := c.do(ctx, http.MethodPost, c.orgPath("commands"), in, &resp)
	return resp, err
}

// GetCommand fetches the envelope for a command.
func (c *Client) GetCommand(ctx context.Context, commandID string) (Envelope, error) {
	var resp Envelope
	err := c.do(ctx, http.MethodGet, "commands/"+url.PathEscape(commandID), nil, &resp)
	return resp, err
}

// ListSessionCommands lists commands recorded against a session.
func (c *Client) ListSessionCommands(ctx context.Context, sessionID string) ([]Command, error) {
	var resp []Command
	endpoint := c.orgPath(fmt.Sprintf("sessions/%s/commands", url.PathEscape(sessionID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ClaimJob claims the next pending job for a worker.
func (c *Client) ClaimJob(ctx context.Context, worker string, limit int) (ClaimOutcome, error) {
	body := map[string]any{"worker": worker}
	if limit > 0 {
		body["limit"] = limit
	}
	var resp ClaimOutcome
	err := c.do(ctx, http.MethodPost, c.orgPath("jobs/claim"), body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// CompleteJob records a terminal result for a job.
func (c *Client) CompleteJob(ctx context.Context, jobID, status string, result map[string]any, errMsg string) (CompletionOutcome, error) {
	body := map[string]any{"status": status}
	if result != nil {
		body["result"] = result
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	var resp CompletionOutcome
	endpoint := fmt.Sprintf("jobs/%s/complete", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// EscalateJob sends a running job back to pending for human review.
func (c *Client) EscalateJob(ctx context.Context, jobID string, reasons, mitigations []string) (Job, error) {
	body := map[string]any{
		"reasons":     reasons,
		"mitigations": mitigations,
	}
	var resp Job
	endpoint := fmt.Sprintf("jobs/%s/escalate", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CloseSession marks a session closed.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("sessions/%s/close", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp)
	return resp, err
}

// RegisterConnector registers or refreshes a connector.
func (c *Client) RegisterConnector(ctx context.Context, connectorType, name, status string, cfg map[string]any) (Connector, error) {
	body := map[string]any{
		"connector_type": connectorType,
		"name":           name,
	}
	if status != "" {
		body["status"] = status
	}
	if cfg != nil {
		body["config"] = cfg
	}
	var resp Connector
	err := c.do(ctx, http.MethodPost, c.orgPath("connectors"), body, &resp)
	return resp, err
}

// ListConnectors lists the org's connectors.
func (c *Client) ListConnectors(ctx context.Context) ([]Connector, error) {
	var resp []Connector
	err := c.do(ctx, http.MethodGet, c.orgPath("connectors"), nil, &resp)
	return resp, err
}

// Coverage returns the connector coverage report.
func (c *Client) Coverage(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, c.orgPath("coverage"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.orgPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) orgPath(suffix string) string {
	return fmt.Sprintf("orgs/%s/%s", url.PathEscape(c.OrgID), suffix)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
