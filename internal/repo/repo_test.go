package repo_test

import (
	"context"
	"testing"

	"lexline/internal/db"
	"lexline/internal/domain"
	"lexline/internal/migrate"
	"lexline/internal/repo"
)

const now = "2026-01-01T00:00:00Z"

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedPendingJob(t *testing.T, r repo.Repo, jobID string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.EnsureOrg(ctx, tx, "org-1", "", now); err != nil {
		t.Fatal(err)
	}
	if err := r.InsertSessionTx(ctx, tx, domain.Session{
		ID: "sess-" + jobID, OrgID: "org-1", Status: "active", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.InsertCommandTx(ctx, tx, domain.Command{
		ID: "cmd-" + jobID, OrgID: "org-1", SessionID: "sess-" + jobID, CommandType: "finance.domain",
		Status: "queued", IssuedBy: "tester", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.InsertJobTx(ctx, tx, domain.Job{
		ID: jobID, OrgID: "org-1", CommandID: "cmd-" + jobID, Worker: "director",
		Status: "pending", ScheduledAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

// The conditional pending->running update is the only claim lock in the
// system: the second claimant must match zero rows.
func TestClaimJobConditionalUpdate(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPendingJob(t, r, "job-1")

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ClaimJobTx(ctx, tx, "job-1", now, map[string]any{"claimedBy": "w1"}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	if err := r.ClaimJobTx(ctx, tx2, "job-1", now, nil); err != repo.ErrNotFound {
		t.Fatalf("second claim should lose the race, got %v", err)
	}

	job, err := r.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != "running" || job.Attempts != 1 {
		t.Fatalf("expected running job with 1 attempt, got %s/%d", job.Status, job.Attempts)
	}
	if job.Metadata["claimedBy"] != "w1" {
		t.Fatalf("expected claim metadata, got %v", job.Metadata)
	}
}

func TestListPendingJobsOrdering(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPendingJob(t, r, "job-a")
	seedPendingJob(t, r, "job-b")
	// job-b's command gets a lower priority value and must come first.
	if _, err := r.DB.ExecContext(ctx, `UPDATE commands SET priority=5 WHERE id='cmd-job-a'`); err != nil {
		t.Fatal(err)
	}
	if _, err := r.DB.ExecContext(ctx, `UPDATE commands SET priority=1 WHERE id='cmd-job-b'`); err != nil {
		t.Fatal(err)
	}
	envelopes, err := r.ListPendingJobs(ctx, "org-1", "director", 5, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(envelopes) != 2 {
		t.Fatalf("expected 2 pending envelopes, got %d", len(envelopes))
	}
	if envelopes[0].Job.ID != "job-b" {
		t.Fatalf("expected job-b first, got %s", envelopes[0].Job.ID)
	}
	if envelopes[0].Session.ID != "sess-job-b" || envelopes[0].Command.ID != "cmd-job-b" {
		t.Fatalf("envelope rows out of sync: %+v", envelopes[0])
	}
}
