package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"lexline/internal/config"
	"lexline/internal/db"
	"lexline/internal/engine"
	"lexline/internal/migrate"
	"lexline/internal/safety"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, gw safety.Gateway) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg, gw)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func enqueue(t *testing.T, env testEnv, in engine.EnqueueInput) engine.IntakeOutcome {
	t.Helper()
	if in.OrgID == "" {
		in.OrgID = "org-1"
	}
	if in.CommandType == "" {
		in.CommandType = "finance.domain"
	}
	if in.IssuedBy == "" {
		in.IssuedBy = "tester"
	}
	outcome, err := env.Engine.EnqueueCommand(env.Ctx, in)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return outcome
}

func TestIntakeSafetyRejection(t *testing.T) {
	gw := safety.Static{Verdict: safety.Verdict{
		Status:      safety.StatusRejected,
		Reasons:     []string{"pii exposure", "unvetted recipient"},
		Mitigations: []string{"redact client names"},
	}}
	env := newTestEnv(t, gw)
	outcome := enqueue(t, env, engine.EnqueueInput{Payload: map[string]any{"foo": "bar"}})
	if outcome.Status != engine.IntakeRejected {
		t.Fatalf("expected rejected outcome, got %s", outcome.Status)
	}
	if outcome.Code != "command_rejected" {
		t.Fatalf("expected command_rejected code, got %s", outcome.Code)
	}
	if len(outcome.Reasons) != 2 || len(outcome.Mitigations) != 1 {
		t.Fatalf("expected reasons and mitigations on outcome")
	}

	cmd, err := env.Engine.Repo.GetCommand(env.Ctx, outcome.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Status != "cancelled" {
		t.Fatalf("expected cancelled command, got %s", cmd.Status)
	}
	if cmd.LastError == nil || *cmd.LastError != "pii exposure; unvetted recipient" {
		t.Fatalf("expected joined reasons as lastError, got %v", cmd.LastError)
	}
	block, ok := cmd.Metadata["safety"].(map[string]any)
	if !ok || block["status"] != "rejected" {
		t.Fatalf("expected safety metadata block, got %v", cmd.Metadata)
	}
	job, err := env.Engine.Repo.GetJob(env.Ctx, outcome.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "cancelled" {
		t.Fatalf("expected cancelled job, got %s", job.Status)
	}
}

func TestIntakeRejectionFallbackError(t *testing.T) {
	env := newTestEnv(t, safety.Static{Verdict: safety.Verdict{Status: safety.StatusRejected}})
	outcome := enqueue(t, env, engine.EnqueueInput{})
	cmd, err := env.Engine.Repo.GetCommand(env.Ctx, outcome.CommandID)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.LastError == nil || *cmd.LastError != "command_rejected_by_safety" {
		t.Fatalf("expected fallback lastError, got %v", cmd.LastError)
	}
}

func TestIntakeSafetyMetadataConsistency(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome := enqueue(t, env, engine.EnqueueInput{Payload: map[string]any{"foo": "bar"}})
	if outcome.Status != engine.IntakeAccepted {
		t.Fatalf("expected accepted, got %s", outcome.Status)
	}
	cmd, err := env.Engine.Repo.GetCommand(env.Ctx, outcome.CommandID)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Status != "queued" {
		t.Fatalf("expected queued command, got %s", cmd.Status)
	}
	block, ok := cmd.Metadata["safety"].(map[string]any)
	if !ok || block["status"] != outcome.Verdict.Status {
		t.Fatalf("safety metadata %v does not match verdict %s", cmd.Metadata, outcome.Verdict.Status)
	}
	if block["reviewer"] != "safety-agent" {
		t.Fatalf("expected safety-agent reviewer, got %v", block["reviewer"])
	}
}

func TestIntakeHITLHold(t *testing.T) {
	gw := safety.Static{Verdict: safety.Verdict{
		Status:  safety.StatusNeedsHITL,
		Reasons: []string{"high value transfer"},
	}}
	env := newTestEnv(t, gw)
	outcome := enqueue(t, env, engine.EnqueueInput{})
	if outcome.Status != engine.IntakeAccepted {
		t.Fatalf("needs_hitl should still be accepted, got %s", outcome.Status)
	}
	job, err := env.Engine.Repo.GetJob(env.Ctx, outcome.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != "pending" {
		t.Fatalf("expected job held pending, got %s", job.Status)
	}
	if job.Metadata["hitlRequired"] != true {
		t.Fatalf("expected hitlRequired flag, got %v", job.Metadata)
	}
}

func TestIntakeSafetyWorkerBypassesGate(t *testing.T) {
	env := newTestEnv(t, safety.Static{Err: errors.New("gateway must not be called")})
	outcome := enqueue(t, env, engine.EnqueueInput{Worker: "safety"})
	if outcome.Status != engine.IntakeAccepted {
		t.Fatalf("expected pre-approved outcome, got %s", outcome.Status)
	}
	if outcome.Verdict == nil || outcome.Verdict.Status != safety.StatusApproved {
		t.Fatalf("expected approved verdict, got %v", outcome.Verdict)
	}
}

func TestIntakePayloadShapeCheck(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome, err := env.Engine.EnqueueCommand(env.Ctx, engine.EnqueueInput{
		OrgID:       "org-1",
		CommandType: "finance.domain",
		Payload:     []any{"not", "an", "object"},
		IssuedBy:    "tester",
	})
	if err != nil {
		t.Fatalf("shape failure should be an outcome, not an error: %v", err)
	}
	if outcome.Status != engine.IntakeRejected || outcome.Code != "invalid_finance_command_payload" {
		t.Fatalf("expected invalid_finance_command_payload rejection, got %+v", outcome)
	}
	if outcome.CommandID != "" {
		t.Fatalf("nothing should be created on shape failure")
	}
}

func TestIntakeReusesSession(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	first := enqueue(t, env, engine.EnqueueInput{})
	second := enqueue(t, env, engine.EnqueueInput{SessionID: first.SessionID})
	if second.SessionID != first.SessionID {
		t.Fatalf("expected session reuse, got %s vs %s", second.SessionID, first.SessionID)
	}
	commands, err := env.Engine.Repo.ListSessionCommands(env.Ctx, "org-1", first.SessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commands) != 2 {
		t.Fatalf("expected 2 commands in session, got %d", len(commands))
	}
}

func TestClaimExclusivity(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	enqueue(t, env, engine.EnqueueInput{})
	first, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w2"})
	if err != nil {
		t.Fatal(err)
	}
	claimed := 0
	for _, outcome := range []engine.ClaimOutcome{first, second} {
		if outcome.Kind == engine.ClaimClaimed {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", claimed)
	}
}

func TestClaimAdvancesCommandAndAttempts(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome := enqueue(t, env, engine.EnqueueInput{})
	claim, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if claim.Kind != engine.ClaimClaimed || claim.Envelope == nil {
		t.Fatalf("expected claimed outcome, got %+v", claim)
	}
	env1 := claim.Envelope
	if env1.Job.Status != "running" || env1.Job.Attempts != 1 {
		t.Fatalf("expected running job with 1 attempt, got %s/%d", env1.Job.Status, env1.Job.Attempts)
	}
	if env1.Job.Metadata["claimedBy"] != "w1" {
		t.Fatalf("expected claim bookkeeping, got %v", env1.Job.Metadata)
	}
	if env1.Command.Status != "in_progress" || env1.Command.StartedAt == nil {
		t.Fatalf("expected command advanced to in_progress, got %+v", env1.Command)
	}

	// Escalate back to pending and reclaim; attempts keeps climbing and the
	// command stays in_progress.
	if _, err := env.Engine.EscalateJob(env.Ctx, outcome.JobID, []string{"needs partner sign-off"}, nil, "reviewer"); err != nil {
		t.Fatal(err)
	}
	claim2, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if claim2.Kind != engine.ClaimClaimed {
		t.Fatalf("expected reclaim after escalation, got %s", claim2.Kind)
	}
	if claim2.Envelope.Job.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", claim2.Envelope.Job.Attempts)
	}
	if claim2.Envelope.Command.Status != "in_progress" {
		t.Fatalf("command should remain in_progress, got %s", claim2.Envelope.Command.Status)
	}
}

func TestClaimOrdersByPriority(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	enqueue(t, env, engine.EnqueueInput{Priority: 5, Payload: map[string]any{"n": "low"}})
	urgent := enqueue(t, env, engine.EnqueueInput{Priority: 1, Payload: map[string]any{"n": "high"}})
	claim, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if claim.Envelope.Command.ID != urgent.CommandID {
		t.Fatalf("expected lowest priority value first, got command %s", claim.Envelope.Command.ID)
	}
}

func TestClaimRespectsScheduledFor(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	enqueue(t, env, engine.EnqueueInput{ScheduledFor: future})
	claim, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if claim.Kind != engine.ClaimNone {
		t.Fatalf("future-scheduled job should not be claimable, got %s", claim.Kind)
	}
}

func TestCompletionInvalidResultMutatesNothing(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome := enqueue(t, env, engine.EnqueueInput{Payload: map[string]any{"foo": "bar"}})
	if _, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"}); err != nil {
		t.Fatal(err)
	}
	completion, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{
		JobID:  outcome.JobID,
		Status: "completed",
		Result: []any{"not", "an", "object"},
		UserID: "w1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if completion.Kind != "invalid_finance_result" {
		t.Fatalf("expected invalid_finance_result, got %s", completion.Kind)
	}
	job, err := env.Engine.Repo.GetJob(env.Ctx, outcome.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != "running" {
		t.Fatalf("job must not be mutated on invalid result, got %s", job.Status)
	}
	cmd, err := env.Engine.Repo.GetCommand(env.Ctx, outcome.CommandID)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Status != "in_progress" {
		t.Fatalf("command must not be mutated on invalid result, got %s", cmd.Status)
	}
}

func TestCompletionTerminalPropagation(t *testing.T) {
	env := newTestEnv(t, safety.Static{})

	ok := enqueue(t, env, engine.EnqueueInput{Payload: map[string]any{"foo": "bar"}})
	mustClaim(t, env)
	completion, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{
		JobID:  ok.JobID,
		Status: "completed",
		Result: map[string]any{"ok": true},
		UserID: "w1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if completion.Kind != engine.CompletionCompleted || completion.Status != "completed" {
		t.Fatalf("unexpected completion outcome %+v", completion)
	}
	cmd, err := env.Engine.Repo.GetCommand(env.Ctx, ok.CommandID)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Status != "completed" || cmd.CompletedAt == nil {
		t.Fatalf("expected completed command, got %+v", cmd)
	}
	if cmd.Result["ok"] != true {
		t.Fatalf("expected result propagated, got %v", cmd.Result)
	}
	job, _ := env.Engine.Repo.GetJob(env.Ctx, ok.JobID)
	if job.Metadata["completedBy"] != "w1" {
		t.Fatalf("expected completion bookkeeping, got %v", job.Metadata)
	}

	failed := enqueue(t, env, engine.EnqueueInput{})
	mustClaim(t, env)
	if _, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{JobID: failed.JobID, Status: "failed", UserID: "w1"}); err != nil {
		t.Fatal(err)
	}
	cmd, _ = env.Engine.Repo.GetCommand(env.Ctx, failed.CommandID)
	if cmd.Status != "failed" || cmd.FailedAt == nil {
		t.Fatalf("expected failed command, got %+v", cmd)
	}
	if cmd.LastError == nil || *cmd.LastError != "command_failed" {
		t.Fatalf("expected defaulted lastError, got %v", cmd.LastError)
	}

	cancelled := enqueue(t, env, engine.EnqueueInput{})
	mustClaim(t, env)
	if _, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{JobID: cancelled.JobID, Status: "cancelled", UserID: "w1"}); err != nil {
		t.Fatal(err)
	}
	cmd, _ = env.Engine.Repo.GetCommand(env.Ctx, cancelled.CommandID)
	if cmd.Status != "cancelled" {
		t.Fatalf("expected cancelled command, got %s", cmd.Status)
	}
	if cmd.LastError == nil || *cmd.LastError != "command_cancelled" {
		t.Fatalf("expected defaulted lastError, got %v", cmd.LastError)
	}
}

func TestCompletionAlreadyCompleted(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome := enqueue(t, env, engine.EnqueueInput{})
	mustClaim(t, env)
	if _, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{JobID: outcome.JobID, Status: "completed", UserID: "w1"}); err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{JobID: outcome.JobID, Status: "failed", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Kind != engine.CompletionAlreadyCompleted || second.Status != "completed" {
		t.Fatalf("expected already_completed with original status, got %+v", second)
	}
	cmd, _ := env.Engine.Repo.GetCommand(env.Ctx, outcome.CommandID)
	if cmd.Status != "completed" {
		t.Fatalf("second completion must not overwrite, got %s", cmd.Status)
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome := enqueue(t, env, engine.EnqueueInput{})
	sess, err := env.Engine.CloseSession(env.Ctx, outcome.SessionID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != "closed" || sess.ClosedAt == nil {
		t.Fatalf("expected closed session, got %+v", sess)
	}
	if _, err := env.Engine.EnqueueCommand(env.Ctx, engine.EnqueueInput{
		OrgID: "org-1", SessionID: outcome.SessionID, CommandType: "finance.domain", IssuedBy: "tester",
	}); err == nil {
		t.Fatalf("expected error enqueueing into a closed session")
	}
}

func TestConnectorCoverage(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	if _, err := env.Engine.RegisterConnector(env.Ctx, engine.RegisterConnectorInput{
		OrgID: "org-1", ConnectorType: "accounting", Name: "ledger", Status: "active", UserID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.ConnectorCoverage(env.Ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	finance := coverageFor(t, report, "finance")
	if len(finance.Missing) != 0 {
		t.Fatalf("active required connector should clear missing, got %v", finance.Missing)
	}

	// Downgrade to pending; required connector becomes missing again. The
	// optional stripe connector never appears in missing.
	if _, err := env.Engine.RegisterConnector(env.Ctx, engine.RegisterConnectorInput{
		OrgID: "org-1", ConnectorType: "accounting", Name: "ledger", Status: "pending", UserID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	report, err = env.Engine.ConnectorCoverage(env.Ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	finance = coverageFor(t, report, "finance")
	if len(finance.Missing) != 1 || finance.Missing[0] != "ledger" {
		t.Fatalf("expected [ledger] missing, got %v", finance.Missing)
	}
	for _, conn := range finance.Connectors {
		if conn.Name == "stripe" && conn.Required {
			t.Fatalf("optional connector must not be required")
		}
	}
}

func coverageFor(t *testing.T, report engine.CoverageReport, domainKey string) engine.DomainCoverage {
	t.Helper()
	for _, cov := range report.Connectors.Coverage {
		if cov.Domain == domainKey {
			return cov
		}
	}
	t.Fatalf("domain %s not in coverage report", domainKey)
	return engine.DomainCoverage{}
}

func mustClaim(t *testing.T, env testEnv) engine.ClaimOutcome {
	t.Helper()
	claim, err := env.Engine.ClaimNextJob(env.Ctx, engine.ClaimInput{OrgID: "org-1", Worker: "director", UserID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if claim.Kind != engine.ClaimClaimed {
		t.Fatalf("expected a claimable job, got %s", claim.Kind)
	}
	return claim
}

func TestLifecycleScenario(t *testing.T) {
	env := newTestEnv(t, safety.Static{})
	outcome := enqueue(t, env, engine.EnqueueInput{
		CommandType: "finance.domain",
		Payload:     map[string]any{"foo": "bar"},
	})
	if outcome.Status != engine.IntakeAccepted {
		t.Fatalf("expected accepted, got %+v", outcome)
	}
	claim := mustClaim(t, env)
	if claim.Envelope.Job.Worker != "director" {
		t.Fatalf("worker should default to director, got %s", claim.Envelope.Job.Worker)
	}
	completion, err := env.Engine.CompleteJob(env.Ctx, engine.CompleteInput{
		JobID:  claim.Envelope.Job.ID,
		Status: "completed",
		Result: map[string]any{"ok": true},
		UserID: "director-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if completion.Kind != engine.CompletionCompleted {
		t.Fatalf("expected completed, got %+v", completion)
	}
	cmd, err := env.Engine.Repo.GetCommand(env.Ctx, outcome.CommandID)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Status != "completed" || cmd.Result["ok"] != true {
		t.Fatalf("final command state wrong: %+v", cmd)
	}
}
