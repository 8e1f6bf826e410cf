package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"lexline/internal/config"
	"lexline/internal/db"
	"lexline/internal/engine"
	"lexline/internal/migrate"
	"lexline/internal/safety"
)

const testOrg = "org-1"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, gw safety.Gateway) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default(testOrg)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, gw)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func authHeaders() map[string]string {
	return map[string]string{"X-User-Id": "tester"}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestCommandLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, safety.Static{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/commands", map[string]any{
		"command_type": "finance.domain",
		"payload":      map[string]any{"foo": "bar"},
	}, authHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create command status %d: %s", res.StatusCode, string(data))
	}
	var outcome engine.IntakeOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.Status != engine.IntakeAccepted || outcome.CommandID == "" {
		t.Fatalf("unexpected intake outcome: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/jobs/claim", map[string]any{
		"worker": "director",
	}, authHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	var claim engine.ClaimOutcome
	_ = json.Unmarshal(data, &claim)
	if claim.Kind != engine.ClaimClaimed || claim.Envelope == nil {
		t.Fatalf("expected claimed envelope: %s", string(data))
	}
	if claim.Envelope.Job.Status != "running" || claim.Envelope.Command.Status != "in_progress" {
		t.Fatalf("envelope must reflect the claim: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+outcome.JobID+"/complete", map[string]any{
		"status": "completed",
		"result": map[string]any{"ok": true},
	}, authHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/commands/"+outcome.CommandID, nil, authHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get command status %d: %s", res.StatusCode, string(data))
	}
	var env struct {
		Command struct {
			Status string         `json:"status"`
			Result map[string]any `json:"result"`
		} `json:"command"`
	}
	_ = json.Unmarshal(data, &env)
	if env.Command.Status != "completed" || env.Command.Result["ok"] != true {
		t.Fatalf("final command wrong: %s", string(data))
	}
}

func TestRejectedCommandMapsToClientError(t *testing.T) {
	gw := safety.Static{Verdict: safety.Verdict{
		Status:  safety.StatusRejected,
		Reasons: []string{"privileged material"},
	}}
	srv, cleanup := newTestServer(t, gw)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/commands", map[string]any{
		"command_type": "finance.domain",
	}, authHeaders())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "command_rejected" {
		t.Fatalf("expected command_rejected code, got %s", envelope.Error.Code)
	}
	if envelope.Error.Details["command_id"] == "" {
		t.Fatalf("rejection should reference the cancelled command: %s", string(data))
	}
}

func TestCompletionErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, safety.Static{})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/commands", map[string]any{
		"command_type": "finance.domain",
		"payload":      map[string]any{"foo": "bar"},
	}, authHeaders())
	var outcome engine.IntakeOutcome
	_ = json.Unmarshal(data, &outcome)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/jobs/claim", map[string]any{"worker": "director"}, authHeaders())

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+outcome.JobID+"/complete", map[string]any{
		"status": "completed",
		"result": []string{"bad", "shape"},
	}, authHeaders())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed result, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+outcome.JobID+"/complete", map[string]any{
		"status": "completed",
		"result": map[string]any{"ok": true},
	}, authHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected completion to succeed, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+outcome.JobID+"/complete", map[string]any{
		"status": "completed",
	}, authHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for repeat completion, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/does-not-exist/complete", map[string]any{
		"status": "completed",
	}, authHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, safety.Static{})
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/"+testOrg+"/connectors", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestCoverageEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, safety.Static{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/connectors", map[string]any{
		"connector_type": "accounting",
		"name":           "ledger",
		"status":         "active",
	}, authHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register connector status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/orgs/"+testOrg+"/coverage", nil, authHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("coverage status %d: %s", res.StatusCode, string(data))
	}
	var report engine.CoverageReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	found := false
	for _, cov := range report.Connectors.Coverage {
		if cov.Domain == "finance" {
			found = true
			if len(cov.Missing) != 0 {
				t.Fatalf("finance should be covered, missing %v", cov.Missing)
			}
		}
	}
	if !found {
		t.Fatalf("finance domain absent from report: %s", string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, safety.Static{})
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+testOrg+"/commands", map[string]any{
		"command_type": "finance.domain",
	}, authHeaders())

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/orgs/"+testOrg+"/events?type=command.enqueued", nil, authHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected an enqueue event, got none")
	}
	if events[0].ActorID != "tester" {
		t.Fatalf("expected actor from auth principal, got %s", events[0].ActorID)
	}
}
