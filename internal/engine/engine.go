// Package engine implements the command lifecycle: intake behind the safety
// gate, atomic job claiming, terminal completion propagation, and connector
// coverage reporting. All persistence goes through repo inside per-operation
// transactions; the engine itself holds no locks.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lexline/internal/config"
	"lexline/internal/domain"
	"lexline/internal/events"
	"lexline/internal/repo"
	"lexline/internal/safety"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Safety safety.Gateway
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gw safety.Gateway) Engine {
	if gw == nil {
		gw = safety.Static{}
	}
	now := func() time.Time { return time.Now().UTC() }
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db, Now: now},
		Config: cfg,
		Safety: gw,
		Now:    now,
	}
}

func (e Engine) now() string {
	return e.Now().Format(time.RFC3339)
}

func ensureCommandTransition(from, to string) error {
	switch from {
	case "queued":
		switch to {
		case "in_progress", "cancelled":
			return nil
		}
	case "in_progress":
		switch to {
		case "completed", "failed", "cancelled":
			return nil
		}
	}
	return fmt.Errorf("invalid command transition %s -> %s", from, to)
}

func ensureJobTransition(from, to string) error {
	switch from {
	case "pending":
		switch to {
		case "running", "cancelled":
			return nil
		}
	case "running":
		// running -> pending is the human-review escalation path only.
		switch to {
		case "completed", "failed", "cancelled", "pending":
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", from, to)
}

func isTerminalJobStatus(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// --- intake ---

type EnqueueInput struct {
	OrgID         string
	SessionID     string
	ChatSessionID string
	CommandType   string
	Payload       any
	Priority      int
	ScheduledFor  string
	Worker        string
	DomainAgent   string
	IssuedBy      string
	Metadata      map[string]any
}

const (
	IntakeAccepted = "accepted"
	IntakeRejected = "rejected"
)

// IntakeOutcome is the single result shape of EnqueueCommand. A rejected
// outcome is a business result, not an error: validation failures carry a
// Code and create nothing, safety rejections carry reasons and leave a
// cancelled Command/Job pair behind.
type IntakeOutcome struct {
	Status      string          `json:"status"`
	Code        string          `json:"code,omitempty"`
	CommandID   string          `json:"commandId,omitempty"`
	JobID       string          `json:"jobId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Verdict     *safety.Verdict `json:"verdict,omitempty"`
	Reasons     []string        `json:"reasons,omitempty"`
	Mitigations []string        `json:"mitigations,omitempty"`
}

func (e Engine) EnqueueCommand(ctx context.Context, in EnqueueInput) (IntakeOutcome, error) {
	if in.OrgID == "" {
		return IntakeOutcome{}, fmt.Errorf("orgId required")
	}
	if in.CommandType == "" {
		return IntakeOutcome{}, fmt.Errorf("commandType required")
	}
	if in.Worker == "" {
		in.Worker = domain.WorkerDirector
	}
	if in.IssuedBy == "" {
		return IntakeOutcome{}, fmt.Errorf("issuedBy required")
	}
	payload, ok := asObject(in.Payload)
	if !ok {
		if v, found := validatorFor(in.CommandType); found {
			return IntakeOutcome{Status: IntakeRejected, Code: v.PayloadCode}, nil
		}
		return IntakeOutcome{Status: IntakeRejected, Code: "invalid_command_payload"}, nil
	}
	if v, found := validatorFor(in.CommandType); found && payload != nil && !v.Check(any(payload)) {
		return IntakeOutcome{Status: IntakeRejected, Code: v.PayloadCode}, nil
	}

	now := e.now()
	scheduledAt := now
	if in.ScheduledFor != "" {
		scheduledAt = in.ScheduledFor
	}

	sessionID := in.SessionID
	cmd := domain.Command{
		ID:           uuid.NewString(),
		OrgID:        in.OrgID,
		CommandType:  in.CommandType,
		Payload:      payload,
		Status:       "queued",
		Priority:     in.Priority,
		ScheduledFor: optionalString(in.ScheduledFor),
		Metadata:     in.Metadata,
		IssuedBy:     in.IssuedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	job := domain.Job{
		ID:          uuid.NewString(),
		OrgID:       in.OrgID,
		CommandID:   cmd.ID,
		Worker:      in.Worker,
		DomainAgent: optionalString(in.DomainAgent),
		Status:      "pending",
		Attempts:    0,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Create the triple durably before the safety gate runs, so a verdict is
	// always applied to records the caller can already resolve.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IntakeOutcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, in.OrgID, "", now); err != nil {
		return IntakeOutcome{}, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		sess := domain.Session{
			ID:            sessionID,
			OrgID:         in.OrgID,
			ChatSessionID: optionalString(in.ChatSessionID),
			Status:        "active",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertSessionTx(ctx, tx, sess); err != nil {
			return IntakeOutcome{}, err
		}
	} else {
		sess, err := e.Repo.GetSession(ctx, sessionID)
		if err != nil {
			return IntakeOutcome{}, fmt.Errorf("session %s: %w", sessionID, err)
		}
		if sess.Status != "active" {
			return IntakeOutcome{}, fmt.Errorf("session %s is %s", sessionID, sess.Status)
		}
	}
	cmd.SessionID = sessionID
	if err := e.Repo.InsertCommandTx(ctx, tx, cmd); err != nil {
		return IntakeOutcome{}, err
	}
	if err := e.Repo.InsertJobTx(ctx, tx, job); err != nil {
		return IntakeOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, "command.enqueued", in.OrgID, "command", cmd.ID, in.IssuedBy, events.EventPayload{
		"commandType": in.CommandType,
		"jobId":       job.ID,
		"sessionId":   sessionID,
		"worker":      in.Worker,
	}); err != nil {
		return IntakeOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return IntakeOutcome{}, err
	}

	verdict := safety.Verdict{Status: safety.StatusApproved, Reasons: []string{}}
	if in.Worker != domain.WorkerSafety {
		verdict, err = e.Safety.Evaluate(ctx, safety.Review{
			OrgID:       in.OrgID,
			SessionID:   sessionID,
			CommandID:   cmd.ID,
			CommandType: in.CommandType,
			Payload:     payload,
			IssuedBy:    in.IssuedBy,
		})
		if err != nil {
			return IntakeOutcome{}, err
		}
	}
	if verdict.ReviewedAt == "" {
		verdict.ReviewedAt = e.now()
	}
	if verdict.Reviewer == "" {
		verdict.Reviewer = "safety-agent"
	}

	outcome := IntakeOutcome{
		CommandID:   cmd.ID,
		JobID:       job.ID,
		SessionID:   sessionID,
		Verdict:     &verdict,
		Reasons:     verdict.Reasons,
		Mitigations: verdict.Mitigations,
	}
	if verdict.Status == safety.StatusRejected {
		outcome.Status = IntakeRejected
		outcome.Code = "command_rejected"
		if err := e.rejectCommand(ctx, cmd, job, verdict); err != nil {
			return IntakeOutcome{}, err
		}
		return outcome, nil
	}
	outcome.Status = IntakeAccepted
	if err := e.annotateCommand(ctx, cmd, job, verdict); err != nil {
		return IntakeOutcome{}, err
	}
	return outcome, nil
}

func safetyBlock(verdict safety.Verdict) map[string]any {
	return map[string]any{
		"status":      verdict.Status,
		"reasons":     verdict.Reasons,
		"mitigations": verdict.Mitigations,
		"reviewedAt":  verdict.ReviewedAt,
		"reviewer":    verdict.Reviewer,
	}
}

func (e Engine) rejectCommand(ctx context.Context, cmd domain.Command, job domain.Job, verdict safety.Verdict) error {
	lastError := strings.Join(verdict.Reasons, "; ")
	if lastError == "" {
		lastError = "command_rejected_by_safety"
	}
	now := e.now()
	if err := ensureCommandTransition(cmd.Status, "cancelled"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCommandStatusTx(ctx, tx, cmd.ID, "cancelled", repo.CommandPatch{
		FailedAt:  &now,
		LastError: &lastError,
		Metadata:  mergeMetadata(cmd.Metadata, map[string]any{"safety": safetyBlock(verdict)}),
	}); err != nil {
		return err
	}
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, job.ID, "cancelled", repo.JobPatch{
		FailedAt:  &now,
		LastError: &lastError,
	}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "command.rejected", cmd.OrgID, "command", cmd.ID, verdict.Reviewer, events.EventPayload{
		"reasons":     verdict.Reasons,
		"mitigations": verdict.Mitigations,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) annotateCommand(ctx context.Context, cmd domain.Command, job domain.Job, verdict safety.Verdict) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCommandStatusTx(ctx, tx, cmd.ID, cmd.Status, repo.CommandPatch{
		Metadata: mergeMetadata(cmd.Metadata, map[string]any{"safety": safetyBlock(verdict)}),
	}); err != nil {
		return err
	}
	if verdict.Status == safety.StatusNeedsHITL {
		if err := e.Repo.UpdateJobStatusTx(ctx, tx, job.ID, job.Status, repo.JobPatch{
			Metadata: mergeMetadata(job.Metadata, map[string]any{
				"hitlRequired": true,
				"reasons":      verdict.Reasons,
				"mitigations":  verdict.Mitigations,
			}),
		}); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "command.reviewed", cmd.OrgID, "command", cmd.ID, verdict.Reviewer, events.EventPayload{
		"status": verdict.Status,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- claim ---

type ClaimInput struct {
	OrgID  string
	Worker string
	UserID string
	Limit  int
}

const (
	ClaimNone    = "none"
	ClaimClaimed = "claimed"
)

type ClaimOutcome struct {
	Kind     string           `json:"kind"`
	Envelope *domain.Envelope `json:"envelope,omitempty"`
}

// ClaimNextJob atomically takes ownership of the highest priority pending job
// for (org, worker). Losing a race for the head job yields {kind: none}; the
// caller polls again.
func (e Engine) ClaimNextJob(ctx context.Context, in ClaimInput) (ClaimOutcome, error) {
	if in.OrgID == "" || in.Worker == "" {
		return ClaimOutcome{}, fmt.Errorf("orgId and worker required")
	}
	if in.Limit <= 0 {
		in.Limit = 5
	}
	now := e.now()
	pending, err := e.Repo.ListPendingJobs(ctx, in.OrgID, in.Worker, in.Limit, now)
	if err != nil {
		return ClaimOutcome{}, err
	}
	if len(pending) == 0 {
		return ClaimOutcome{Kind: ClaimNone}, nil
	}
	env := pending[0]
	if err := ensureJobTransition(env.Job.Status, "running"); err != nil {
		return ClaimOutcome{}, err
	}
	claimMeta := mergeMetadata(env.Job.Metadata, map[string]any{
		"claimedBy": in.UserID,
		"claimedAt": now,
	})

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ClaimOutcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ClaimJobTx(ctx, tx, env.Job.ID, now, claimMeta); err != nil {
		if err == repo.ErrNotFound {
			// Another claimant won the conditional update.
			return ClaimOutcome{Kind: ClaimNone}, nil
		}
		return ClaimOutcome{}, err
	}
	if env.Command.Status == "queued" {
		if err := ensureCommandTransition("queued", "in_progress"); err != nil {
			return ClaimOutcome{}, err
		}
		if err := e.Repo.UpdateCommandStatusTx(ctx, tx, env.Command.ID, "in_progress", repo.CommandPatch{
			StartedAt: &now,
		}); err != nil {
			return ClaimOutcome{}, err
		}
		env.Command.Status = "in_progress"
		env.Command.StartedAt = &now
	}
	if err := e.Events.Append(ctx, tx, "job.claimed", in.OrgID, "job", env.Job.ID, in.UserID, events.EventPayload{
		"commandId": env.Command.ID,
		"worker":    in.Worker,
		"attempts":  env.Job.Attempts + 1,
	}); err != nil {
		return ClaimOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ClaimOutcome{}, err
	}

	env.Job.Status = "running"
	env.Job.StartedAt = &now
	env.Job.Attempts++
	env.Job.Metadata = claimMeta
	env.Job.UpdatedAt = now
	return ClaimOutcome{Kind: ClaimClaimed, Envelope: &env}, nil
}

// --- completion ---

type CompleteInput struct {
	JobID        string
	Status       string
	Result       any
	ErrorMessage string
	UserID       string
}

const (
	CompletionCompleted        = "completed"
	CompletionCommandNotFound  = "command_not_found"
	CompletionAlreadyCompleted = "already_completed"
)

type CompletionOutcome struct {
	Kind   string `json:"kind"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
}

// CompleteJob records a worker's terminal result and propagates it to the
// paired Command. A malformed result mutates nothing; a second completion of
// an already terminal job is reported, not overwritten.
func (e Engine) CompleteJob(ctx context.Context, in CompleteInput) (CompletionOutcome, error) {
	switch in.Status {
	case "completed", "failed", "cancelled":
	default:
		return CompletionOutcome{}, fmt.Errorf("terminal status must be completed, failed or cancelled, got %q", in.Status)
	}
	job, err := e.Repo.GetJob(ctx, in.JobID)
	if err != nil {
		return CompletionOutcome{}, err
	}
	meta, err := e.Repo.GetCommandMeta(ctx, job.CommandID)
	if err != nil {
		if err == repo.ErrNotFound {
			return CompletionOutcome{Kind: CompletionCommandNotFound}, nil
		}
		return CompletionOutcome{}, err
	}
	if isTerminalJobStatus(job.Status) {
		return CompletionOutcome{Kind: CompletionAlreadyCompleted, Status: job.Status}, nil
	}
	result, ok := asObject(in.Result)
	if !ok {
		code := "invalid_command_result"
		if v, found := validatorFor(meta.CommandType); found {
			code = v.ResultCode
		}
		return CompletionOutcome{Kind: code, Code: code}, nil
	}
	if v, found := validatorFor(meta.CommandType); found && result != nil && !v.Check(any(result)) {
		return CompletionOutcome{Kind: v.ResultCode, Code: v.ResultCode}, nil
	}
	if err := ensureJobTransition(job.Status, in.Status); err != nil {
		return CompletionOutcome{}, err
	}

	now := e.now()
	var lastResult any
	if result != nil {
		lastResult = result
	}
	jobMeta := mergeMetadata(job.Metadata, map[string]any{
		"completedBy": in.UserID,
		"completedAt": now,
		"lastResult":  lastResult,
		"lastError":   nilIfEmpty(in.ErrorMessage),
	})
	jobPatch := repo.JobPatch{
		CompletedAt: &now,
		Metadata:    jobMeta,
		LastError:   optionalString(in.ErrorMessage),
	}
	if in.Status != "completed" {
		jobPatch.FailedAt = &now
	}

	cmdResult := result
	if cmdResult == nil {
		cmdResult = map[string]any{}
	}
	cmdStatus := "cancelled"
	cmdPatch := repo.CommandPatch{Result: cmdResult}
	switch in.Status {
	case "completed":
		cmdStatus = "completed"
		cmdPatch.CompletedAt = &now
	case "failed":
		cmdStatus = "failed"
		cmdPatch.FailedAt = &now
		lastError := in.ErrorMessage
		if lastError == "" {
			lastError = "command_failed"
		}
		cmdPatch.LastError = &lastError
	default:
		cmdPatch.FailedAt = &now
		lastError := in.ErrorMessage
		if lastError == "" {
			lastError = "command_cancelled"
		}
		cmdPatch.LastError = &lastError
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompletionOutcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, job.ID, in.Status, jobPatch); err != nil {
		return CompletionOutcome{}, err
	}
	if err := e.Repo.UpdateCommandStatusTx(ctx, tx, job.CommandID, cmdStatus, cmdPatch); err != nil {
		return CompletionOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.completed", job.OrgID, "job", job.ID, in.UserID, events.EventPayload{
		"commandId": job.CommandID,
		"status":    in.Status,
	}); err != nil {
		return CompletionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompletionOutcome{}, err
	}
	return CompletionOutcome{Kind: CompletionCompleted, Status: in.Status}, nil
}

func nilIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- escalation ---

// EscalateJob sends a running job back to pending for human review. The job
// stays open; a reviewer clears the hold out of band and a worker reclaims it.
func (e Engine) EscalateJob(ctx context.Context, jobID string, reasons, mitigations []string, userID string) (domain.Job, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := ensureJobTransition(job.Status, "pending"); err != nil {
		return domain.Job{}, err
	}
	now := e.now()
	meta := mergeMetadata(job.Metadata, map[string]any{
		"hitlRequired": true,
		"reasons":      reasons,
		"mitigations":  mitigations,
		"escalatedBy":  userID,
		"escalatedAt":  now,
	})
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, job.ID, "pending", repo.JobPatch{Metadata: meta}); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.escalated", job.OrgID, "job", job.ID, userID, events.EventPayload{
		"commandId": job.CommandID,
		"reasons":   reasons,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return e.Repo.GetJob(ctx, jobID)
}

// --- sessions ---

func (e Engine) CloseSession(ctx context.Context, sessionID, userID string) (domain.Session, error) {
	sess, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CloseSessionTx(ctx, tx, sess.ID, now); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, "session.closed", sess.OrgID, "session", sess.ID, userID, nil); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// --- connectors ---

type RegisterConnectorInput struct {
	OrgID         string
	ConnectorType string
	Name          string
	Status        string
	Config        map[string]any
	Metadata      map[string]any
	UserID        string
}

func (e Engine) RegisterConnector(ctx context.Context, in RegisterConnectorInput) (domain.Connector, error) {
	if in.OrgID == "" || in.ConnectorType == "" || in.Name == "" {
		return domain.Connector{}, fmt.Errorf("orgId, connectorType and name required")
	}
	if in.Status == "" {
		in.Status = "active"
	}
	switch in.Status {
	case "active", "pending", "inactive", "error":
	default:
		return domain.Connector{}, fmt.Errorf("unknown connector status %q", in.Status)
	}
	now := e.now()
	conn, err := e.Repo.UpsertConnector(ctx, domain.Connector{
		ID:            uuid.NewString(),
		OrgID:         in.OrgID,
		ConnectorType: in.ConnectorType,
		Name:          in.Name,
		Status:        in.Status,
		Config:        in.Config,
		Metadata:      in.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Connector{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Connector{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "connector.registered", in.OrgID, "connector", conn.ID, in.UserID, events.EventPayload{
		"connectorType": in.ConnectorType,
		"name":          in.Name,
		"status":        conn.Status,
	}); err != nil {
		return domain.Connector{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Connector{}, err
	}
	return conn, nil
}

// --- coverage ---

type CoverageConnector struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Purpose  string `json:"purpose,omitempty"`
	Required bool   `json:"required"`
	Status   string `json:"status"`
}

type DomainCoverage struct {
	Domain     string              `json:"domain"`
	Connectors []CoverageConnector `json:"connectors"`
	Missing    []string            `json:"missing"`
}

type CoverageReport struct {
	Manifest   map[string]config.CapabilityDomain `json:"manifest"`
	Connectors struct {
		Items    []domain.Connector `json:"items"`
		Coverage []DomainCoverage   `json:"coverage"`
	} `json:"connectors"`
}

// ConnectorCoverage cross-references the org's registered connectors against
// the capability manifest. Read-only; a connector absent from the registry
// resolves to status "inactive".
func (e Engine) ConnectorCoverage(ctx context.Context, orgID string) (CoverageReport, error) {
	var report CoverageReport
	if e.Config == nil {
		return report, fmt.Errorf("no capability manifest configured")
	}
	report.Manifest = e.Config.Capabilities.Domains
	items, err := e.Repo.ListConnectors(ctx, orgID)
	if err != nil {
		return report, err
	}
	report.Connectors.Items = items
	statusByKey := make(map[string]string, len(items))
	for _, c := range items {
		statusByKey[c.ConnectorType+":"+c.Name] = c.Status
	}
	domains := make([]string, 0, len(report.Manifest))
	for key := range report.Manifest {
		domains = append(domains, key)
	}
	sort.Strings(domains)
	for _, key := range domains {
		spec := report.Manifest[key]
		cov := DomainCoverage{Domain: key, Missing: []string{}}
		for _, cs := range spec.Connectors {
			status, ok := statusByKey[cs.Type+":"+cs.Name]
			if !ok {
				status = "inactive"
			}
			required := !cs.Optional
			cov.Connectors = append(cov.Connectors, CoverageConnector{
				Type:     cs.Type,
				Name:     cs.Name,
				Purpose:  cs.Purpose,
				Required: required,
				Status:   status,
			})
			if required && status != "active" {
				cov.Missing = append(cov.Missing, cs.Name)
			}
		}
		report.Connectors.Coverage = append(report.Connectors.Coverage, cov)
	}
	return report, nil
}
