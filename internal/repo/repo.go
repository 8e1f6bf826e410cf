package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexline/internal/config"
	"lexline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const (
	commandCols = `id,org_id,session_id,command_type,payload,status,priority,scheduled_for,started_at,completed_at,failed_at,result,last_error,metadata,issued_by,created_at,updated_at`
	jobCols     = `id,org_id,command_id,worker,domain_agent,status,attempts,scheduled_at,started_at,completed_at,failed_at,last_error,metadata,created_at,updated_at`
	sessionCols = `id,org_id,chat_session_id,status,director_state,safety_state,metadata,current_objective,last_director_run_id,last_safety_run_id,closed_at,created_at,updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func jsonColumn(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func mapFromColumn(v sql.NullString) map[string]any {
	if !v.Valid || v.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil
	}
	return m
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func scanCommand(sc rowScanner) (domain.Command, error) {
	var c domain.Command
	var payload, scheduledFor, startedAt, completedAt, failedAt, result, lastError, metadata sql.NullString
	err := sc.Scan(&c.ID, &c.OrgID, &c.SessionID, &c.CommandType, &payload, &c.Status, &c.Priority,
		&scheduledFor, &startedAt, &completedAt, &failedAt, &result, &lastError, &metadata,
		&c.IssuedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Payload = mapFromColumn(payload)
	c.ScheduledFor = strPtr(scheduledFor)
	c.StartedAt = strPtr(startedAt)
	c.CompletedAt = strPtr(completedAt)
	c.FailedAt = strPtr(failedAt)
	c.Result = mapFromColumn(result)
	c.LastError = strPtr(lastError)
	c.Metadata = mapFromColumn(metadata)
	return c, nil
}

func scanJob(sc rowScanner) (domain.Job, error) {
	var j domain.Job
	var domainAgent, startedAt, completedAt, failedAt, lastError, metadata sql.NullString
	err := sc.Scan(&j.ID, &j.OrgID, &j.CommandID, &j.Worker, &domainAgent, &j.Status, &j.Attempts,
		&j.ScheduledAt, &startedAt, &completedAt, &failedAt, &lastError, &metadata, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.DomainAgent = strPtr(domainAgent)
	j.StartedAt = strPtr(startedAt)
	j.CompletedAt = strPtr(completedAt)
	j.FailedAt = strPtr(failedAt)
	j.LastError = strPtr(lastError)
	j.Metadata = mapFromColumn(metadata)
	return j, nil
}

func scanSession(sc rowScanner) (domain.Session, error) {
	var s domain.Session
	var chatSessionID, directorState, safetyState, metadata, objective, lastDirector, lastSafety, closedAt sql.NullString
	err := sc.Scan(&s.ID, &s.OrgID, &chatSessionID, &s.Status, &directorState, &safetyState, &metadata,
		&objective, &lastDirector, &lastSafety, &closedAt, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.ChatSessionID = strPtr(chatSessionID)
	s.DirectorState = mapFromColumn(directorState)
	s.SafetyState = mapFromColumn(safetyState)
	s.Metadata = mapFromColumn(metadata)
	s.CurrentObjective = strPtr(objective)
	s.LastDirectorRunID = strPtr(lastDirector)
	s.LastSafetyRunID = strPtr(lastSafety)
	s.ClosedAt = strPtr(closedAt)
	return s, nil
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orgs(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		orgID, nullable(name), now)
	return err
}

// --- sessions ---

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	directorState, err := jsonColumn(s.DirectorState)
	if err != nil {
		return err
	}
	safetyState, err := jsonColumn(s.SafetyState)
	if err != nil {
		return err
	}
	metadata, err := jsonColumn(s.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(`+sessionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.OrgID, nullableStringPtr(s.ChatSessionID), s.Status, directorState, safetyState, metadata,
		nullableStringPtr(s.CurrentObjective), nullableStringPtr(s.LastDirectorRunID), nullableStringPtr(s.LastSafetyRunID),
		nullableStringPtr(s.ClosedAt), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=?`, id))
}

func (r Repo) ListSessions(ctx context.Context, orgID string) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CloseSessionTx marks an active session closed. Returns ErrNotFound when the
// session is missing or already closed.
func (r Repo) CloseSessionTx(ctx context.Context, tx *sql.Tx, id, closedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status='closed', closed_at=?, updated_at=? WHERE id=? AND status='active'`,
		closedAt, closedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- commands ---

func (r Repo) InsertCommandTx(ctx context.Context, tx *sql.Tx, c domain.Command) error {
	payload, err := jsonColumn(c.Payload)
	if err != nil {
		return err
	}
	result, err := jsonColumn(c.Result)
	if err != nil {
		return err
	}
	metadata, err := jsonColumn(c.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO commands(`+commandCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OrgID, c.SessionID, c.CommandType, payload, c.Status, c.Priority,
		nullableStringPtr(c.ScheduledFor), nullableStringPtr(c.StartedAt), nullableStringPtr(c.CompletedAt),
		nullableStringPtr(c.FailedAt), result, nullableStringPtr(c.LastError), metadata,
		c.IssuedBy, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCommand(ctx context.Context, id string) (domain.Command, error) {
	return scanCommand(r.DB.QueryRowContext(ctx, `SELECT `+commandCols+` FROM commands WHERE id=?`, id))
}

// CommandMeta is the minimal command projection job completion validates against.
type CommandMeta struct {
	CommandType string
	Payload     map[string]any
}

func (r Repo) GetCommandMeta(ctx context.Context, id string) (CommandMeta, error) {
	var meta CommandMeta
	var payload sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT command_type, payload FROM commands WHERE id=?`, id).
		Scan(&meta.CommandType, &payload)
	if err == sql.ErrNoRows {
		return meta, ErrNotFound
	}
	if err != nil {
		return meta, err
	}
	meta.Payload = mapFromColumn(payload)
	return meta, nil
}

func (r Repo) ListSessionCommands(ctx context.Context, orgID, sessionID string, limit int) ([]domain.Command, error) {
	query := `SELECT ` + commandCols + ` FROM commands WHERE org_id=? AND session_id=? ORDER BY created_at DESC, id DESC`
	args := []any{orgID, sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CommandPatch carries the optional fields of a command status update. Nil
// fields are left untouched; Metadata and Result replace the stored value.
type CommandPatch struct {
	StartedAt   *string
	CompletedAt *string
	FailedAt    *string
	Result      map[string]any
	Metadata    map[string]any
	LastError   *string
}

func (r Repo) UpdateCommandStatus(ctx context.Context, id, status string, patch CommandPatch) error {
	return r.updateCommandStatus(ctx, r.DB, nil, id, status, patch)
}

func (r Repo) UpdateCommandStatusTx(ctx context.Context, tx *sql.Tx, id, status string, patch CommandPatch) error {
	return r.updateCommandStatus(ctx, nil, tx, id, status, patch)
}

func (r Repo) updateCommandStatus(ctx context.Context, db *sql.DB, tx *sql.Tx, id, status string, patch CommandPatch) error {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{status, time.Now().UTC().Format(time.RFC3339)}
	if patch.StartedAt != nil {
		fields = append(fields, "started_at=?")
		args = append(args, *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *patch.CompletedAt)
	}
	if patch.FailedAt != nil {
		fields = append(fields, "failed_at=?")
		args = append(args, *patch.FailedAt)
	}
	if patch.Result != nil {
		result, err := jsonColumn(patch.Result)
		if err != nil {
			return err
		}
		fields = append(fields, "result=?")
		args = append(args, result)
	}
	if patch.Metadata != nil {
		metadata, err := jsonColumn(patch.Metadata)
		if err != nil {
			return err
		}
		fields = append(fields, "metadata=?")
		args = append(args, metadata)
	}
	if patch.LastError != nil {
		fields = append(fields, "last_error=?")
		args = append(args, *patch.LastError)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE commands SET %s WHERE id=?`, strings.Join(fields, ","))
	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- jobs ---

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	metadata, err := jsonColumn(j.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(`+jobCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.OrgID, j.CommandID, j.Worker, nullableStringPtr(j.DomainAgent), j.Status, j.Attempts,
		j.ScheduledAt, nullableStringPtr(j.StartedAt), nullableStringPtr(j.CompletedAt), nullableStringPtr(j.FailedAt),
		nullableStringPtr(j.LastError), metadata, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id=?`, id))
}

// GetEnvelope returns the consistent {command, job, session} triple for a command.
func (r Repo) GetEnvelope(ctx context.Context, commandID string) (domain.Envelope, error) {
	return scanEnvelope(r.DB.QueryRowContext(ctx, envelopeQuery+` WHERE c.id=?`, commandID))
}

const envelopeQuery = `SELECT
	c.id,c.org_id,c.session_id,c.command_type,c.payload,c.status,c.priority,c.scheduled_for,c.started_at,c.completed_at,c.failed_at,c.result,c.last_error,c.metadata,c.issued_by,c.created_at,c.updated_at,
	j.id,j.org_id,j.command_id,j.worker,j.domain_agent,j.status,j.attempts,j.scheduled_at,j.started_at,j.completed_at,j.failed_at,j.last_error,j.metadata,j.created_at,j.updated_at,
	s.id,s.org_id,s.chat_session_id,s.status,s.director_state,s.safety_state,s.metadata,s.current_objective,s.last_director_run_id,s.last_safety_run_id,s.closed_at,s.created_at,s.updated_at
FROM commands c
JOIN jobs j ON j.command_id=c.id
JOIN sessions s ON s.id=c.session_id`

func scanEnvelope(sc rowScanner) (domain.Envelope, error) {
	var env domain.Envelope
	var c = &env.Command
	var j = &env.Job
	var s = &env.Session
	var cPayload, cScheduledFor, cStartedAt, cCompletedAt, cFailedAt, cResult, cLastError, cMetadata sql.NullString
	var jDomainAgent, jStartedAt, jCompletedAt, jFailedAt, jLastError, jMetadata sql.NullString
	var sChat, sDirector, sSafety, sMetadata, sObjective, sLastDirector, sLastSafety, sClosedAt sql.NullString
	err := sc.Scan(
		&c.ID, &c.OrgID, &c.SessionID, &c.CommandType, &cPayload, &c.Status, &c.Priority,
		&cScheduledFor, &cStartedAt, &cCompletedAt, &cFailedAt, &cResult, &cLastError, &cMetadata,
		&c.IssuedBy, &c.CreatedAt, &c.UpdatedAt,
		&j.ID, &j.OrgID, &j.CommandID, &j.Worker, &jDomainAgent, &j.Status, &j.Attempts,
		&j.ScheduledAt, &jStartedAt, &jCompletedAt, &jFailedAt, &jLastError, &jMetadata, &j.CreatedAt, &j.UpdatedAt,
		&s.ID, &s.OrgID, &sChat, &s.Status, &sDirector, &sSafety, &sMetadata,
		&sObjective, &sLastDirector, &sLastSafety, &sClosedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return env, ErrNotFound
	}
	if err != nil {
		return env, err
	}
	c.Payload = mapFromColumn(cPayload)
	c.ScheduledFor = strPtr(cScheduledFor)
	c.StartedAt = strPtr(cStartedAt)
	c.CompletedAt = strPtr(cCompletedAt)
	c.FailedAt = strPtr(cFailedAt)
	c.Result = mapFromColumn(cResult)
	c.LastError = strPtr(cLastError)
	c.Metadata = mapFromColumn(cMetadata)
	j.DomainAgent = strPtr(jDomainAgent)
	j.StartedAt = strPtr(jStartedAt)
	j.CompletedAt = strPtr(jCompletedAt)
	j.FailedAt = strPtr(jFailedAt)
	j.LastError = strPtr(jLastError)
	j.Metadata = mapFromColumn(jMetadata)
	s.ChatSessionID = strPtr(sChat)
	s.DirectorState = mapFromColumn(sDirector)
	s.SafetyState = mapFromColumn(sSafety)
	s.Metadata = mapFromColumn(sMetadata)
	s.CurrentObjective = strPtr(sObjective)
	s.LastDirectorRunID = strPtr(sLastDirector)
	s.LastSafetyRunID = strPtr(sLastSafety)
	s.ClosedAt = strPtr(sClosedAt)
	return env, nil
}

// ListPendingJobs returns up to limit claimable envelopes for (org, worker),
// highest priority first (lower value wins), then oldest schedule. Jobs
// scheduled in the future are excluded.
func (r Repo) ListPendingJobs(ctx context.Context, orgID, worker string, limit int, now string) ([]domain.Envelope, error) {
	query := envelopeQuery + `
WHERE j.org_id=? AND j.worker=? AND j.status='pending' AND j.scheduled_at<=?
ORDER BY c.priority ASC, j.scheduled_at ASC, j.id ASC
LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, orgID, worker, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, env)
	}
	return res, rows.Err()
}

// ClaimJobTx performs the atomic pending->running transition. The conditional
// update guarantees two concurrent claimants never both succeed: the loser
// matches zero rows and gets ErrNotFound. Attempts is incremented in SQL so
// the count survives any interleaving.
func (r Repo) ClaimJobTx(ctx context.Context, tx *sql.Tx, jobID, startedAt string, metadata map[string]any) error {
	meta, err := jsonColumn(metadata)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status='running', started_at=?, attempts=attempts+1, metadata=?, updated_at=? WHERE id=? AND status='pending'`,
		startedAt, meta, startedAt, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// JobPatch carries the optional fields of a job status update.
type JobPatch struct {
	StartedAt   *string
	CompletedAt *string
	FailedAt    *string
	Attempts    *int
	Metadata    map[string]any
	LastError   *string
}

func (r Repo) UpdateJobStatus(ctx context.Context, id, status string, patch JobPatch) error {
	return r.updateJobStatus(ctx, r.DB, nil, id, status, patch)
}

func (r Repo) UpdateJobStatusTx(ctx context.Context, tx *sql.Tx, id, status string, patch JobPatch) error {
	return r.updateJobStatus(ctx, nil, tx, id, status, patch)
}

func (r Repo) updateJobStatus(ctx context.Context, db *sql.DB, tx *sql.Tx, id, status string, patch JobPatch) error {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{status, time.Now().UTC().Format(time.RFC3339)}
	if patch.StartedAt != nil {
		fields = append(fields, "started_at=?")
		args = append(args, *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *patch.CompletedAt)
	}
	if patch.FailedAt != nil {
		fields = append(fields, "failed_at=?")
		args = append(args, *patch.FailedAt)
	}
	if patch.Attempts != nil {
		fields = append(fields, "attempts=?")
		args = append(args, *patch.Attempts)
	}
	if patch.Metadata != nil {
		metadata, err := jsonColumn(patch.Metadata)
		if err != nil {
			return err
		}
		fields = append(fields, "metadata=?")
		args = append(args, metadata)
	}
	if patch.LastError != nil {
		fields = append(fields, "last_error=?")
		args = append(args, *patch.LastError)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id=?`, strings.Join(fields, ","))
	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- org config ---

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, r.DB, nil, orgID, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, nil, tx, orgID, cfg)
}

func upsertOrgConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Org.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	if _, err := exec(`INSERT INTO orgs(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, orgID, nil, now); err != nil {
		return err
	}
	_, err = exec(`INSERT INTO org_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE org_id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	return &cfg, cfg.Validate()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, orgID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, orgID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var orgID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &orgID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if orgID.Valid {
			e.OrgID = orgID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for an org.
func (r Repo) LatestEventID(ctx context.Context, orgID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE org_id=?`, orgID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
