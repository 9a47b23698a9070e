package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"samplib/internal/storage"
)

// Store manages the persistent analysis-job ledger. Claim is the sole
// synchronization point between workers; every mutation goes through
// Enqueue, Claim, or Complete.
type Store struct {
	db           *storage.DB
	reclaimAfter time.Duration
	maxAttempts  int
}

// NewStore wraps the shared database handle. Claims older than reclaimAfter
// become eligible for re-claim; failures beyond maxAttempts park the job.
func NewStore(db *storage.DB, reclaimAfter time.Duration, maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Store{db: db, reclaimAfter: reclaimAfter, maxAttempts: maxAttempts}
}

const jobColumns = "id, sample_id, kind, required_version, status, attempts, claim_owner, claim_time, last_error, created_at, updated_at"

// Enqueue records that a sample needs (re)analysis. It is idempotent: an
// equivalent pending or claimed job absorbs the call, and a parked failed
// job stays parked until RetryFailed or a version bump. A done job, or any
// job recorded against a different required version, is reset to pending.
// Returns true when a runnable job was created or revived.
func (s *Store) Enqueue(ctx context.Context, sampleID string, kind Kind, requiredVersion string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO analysis_jobs (sample_id, kind, required_version, status, attempts, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)
         ON CONFLICT(sample_id, kind) DO UPDATE SET
           required_version = excluded.required_version,
           status = ?,
           attempts = 0,
           claim_owner = NULL,
           claim_time = NULL,
           last_error = NULL,
           updated_at = excluded.updated_at
         WHERE analysis_jobs.status = ?
            OR analysis_jobs.required_version != excluded.required_version`,
		sampleID, kind, requiredVersion, StatusPending, now, now,
		StatusPending, StatusDone,
	)
	if err != nil {
		return false, fmt.Errorf("%w: enqueue job: %v", storage.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Claim atomically leases up to batchSize runnable jobs to workerID. A job
// is runnable when pending, or when claimed but its lease has expired. The
// whole operation runs in one immediate transaction so concurrent claimers
// can never receive overlapping job sets.
func (s *Store) Claim(ctx context.Context, batchSize int, workerID string) ([]*Job, error) {
	if batchSize < 1 {
		return nil, nil
	}
	now := time.Now().UTC()
	cutoff := now.Add(-s.reclaimAfter).Format(time.RFC3339Nano)

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin claim tx: %v", storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	// BEGIN IMMEDIATE equivalent: take the write lock up front so the
	// select-then-update pair is a single arbitration point.
	if _, err := tx.ExecContext(ctx, "UPDATE analysis_jobs SET id = id WHERE 0"); err != nil {
		return nil, fmt.Errorf("acquire write lock: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM analysis_jobs
         WHERE status = ? OR (status = ? AND claim_time IS NOT NULL AND claim_time < ?)
         ORDER BY created_at, id
         LIMIT ?`,
		StatusPending, StatusClaimed, cutoff, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	nowRaw := now.Format(time.RFC3339Nano)
	args := make([]any, 0, len(ids)+4)
	args = append(args, StatusClaimed, workerID, nowRaw, nowRaw)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE analysis_jobs
         SET status = ?, claim_owner = ?, claim_time = ?, attempts = attempts + 1, updated_at = ?
         WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected != int64(len(ids)) {
		return nil, fmt.Errorf("claim raced: expected %d rows, updated %d", len(ids), affected)
	}

	jobs, err := queryJobs(ctx, tx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id IN (`+placeholders(len(ids))+`) ORDER BY created_at, id`, idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return jobs, nil
}

// Complete transitions a claimed job to done.
func (s *Store) Complete(ctx context.Context, jobID int64) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE analysis_jobs
         SET status = ?, claim_owner = NULL, claim_time = NULL, last_error = NULL, updated_at = ?
         WHERE id = ?`,
		StatusDone, time.Now().UTC().Format(time.RFC3339Nano), jobID,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records a job failure. Jobs under the attempt budget drop back to
// pending for retry; exhausted jobs are parked as failed and surfaced via
// ParkedJobs rather than silently dropped.
func (s *Store) Fail(ctx context.Context, job *Job, cause error) error {
	if job == nil {
		return errors.New("job is nil")
	}
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}
	status := StatusPending
	if job.Attempts >= s.maxAttempts {
		status = StatusFailed
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE analysis_jobs
         SET status = ?, claim_owner = NULL, claim_time = NULL, last_error = ?, updated_at = ?
         WHERE id = ?`,
		status, message, time.Now().UTC().Format(time.RFC3339Nano), job.ID,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Release returns a claimed job to pending without recording a failure.
// The finalizer uses it when a result is discarded as stale: the job must
// re-run against the newer fingerprint, and the discard is not the job's
// fault, so the attempt counter is rewound.
func (s *Store) Release(ctx context.Context, jobID int64) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE analysis_jobs
         SET status = ?, claim_owner = NULL, claim_time = NULL,
             attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END,
             updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending, time.Now().UTC().Format(time.RFC3339Nano), jobID, StatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// Discard removes jobs for a sample that left the library. Done history is
// kept; only runnable work is cancelled.
func (s *Store) Discard(ctx context.Context, sampleID string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM analysis_jobs WHERE sample_id = ? AND status IN (?, ?, ?)`,
		sampleID, StatusPending, StatusClaimed, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("discard jobs: %w", err)
	}
	return nil
}

// PruneDone deletes completed job rows. History accumulates one done row
// per (sample, kind); pruning reclaims the space without touching runnable
// work.
func (s *Store) PruneDone(ctx context.Context) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM analysis_jobs WHERE status = ?`, StatusDone,
	)
	if err != nil {
		return 0, fmt.Errorf("prune done jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetExpiredClaims returns expired leases to pending. Claim performs the
// same check lazily; this sweep exists for daemon startup after a crash.
func (s *Store) ResetExpiredClaims(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.reclaimAfter).Format(time.RFC3339Nano)
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE analysis_jobs
         SET status = ?, claim_owner = NULL, claim_time = NULL, updated_at = ?
         WHERE status = ? AND (claim_time IS NULL OR claim_time < ?)`,
		StatusPending, time.Now().UTC().Format(time.RFC3339Nano), StatusClaimed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset expired claims: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves parked jobs back to pending. With no ids, all parked
// jobs are retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.Conn().ExecContext(ctx,
			`UPDATE analysis_jobs
             SET status = ?, attempts = 0, last_error = NULL, updated_at = ?
             WHERE status = ?`,
			StatusPending, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, now, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE analysis_jobs
         SET status = ?, attempts = 0, last_error = NULL, updated_at = ?
         WHERE status = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// Progress returns job counts grouped by status.
func (s *Store) Progress(ctx context.Context) (Progress, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT status, COUNT(1) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return Progress{}, fmt.Errorf("%w: job progress: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var progress Progress
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Progress{}, err
		}
		switch status {
		case StatusPending:
			progress.Pending = count
		case StatusClaimed:
			progress.Claimed = count
		case StatusDone:
			progress.Done = count
		case StatusFailed:
			progress.Failed = count
		}
	}
	return progress, rows.Err()
}

// ParkedJobs lists jobs that exhausted their retries.
func (s *Store) ParkedJobs(ctx context.Context) ([]*Job, error) {
	return queryJobs(ctx, s.db.Conn(),
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE status = ? ORDER BY updated_at`, StatusFailed)
}

// Get fetches one job by (sample, kind).
func (s *Store) Get(ctx context.Context, sampleID string, kind Kind) (*Job, error) {
	jobs, err := queryJobs(ctx, s.db.Conn(),
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE sample_id = ? AND kind = ?`, sampleID, kind)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryJobs(ctx context.Context, q querier, query string, args ...any) ([]*Job, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job        Job
		kindRaw    string
		statusRaw  string
		owner      sql.NullString
		claimRaw   sql.NullString
		lastError  sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.SampleID,
		&kindRaw,
		&job.RequiredVersion,
		&statusRaw,
		&job.Attempts,
		&owner,
		&claimRaw,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kindRaw)
	job.Status = Status(statusRaw)
	job.ClaimOwner = owner.String
	job.LastError = lastError.String
	if claimRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, claimRaw.String); err == nil {
			job.ClaimTime = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
