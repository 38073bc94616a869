package daemon

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store keeps the daemon's job queue, run history and scanner state in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Job is one queued, running or finished unit of daemon work.
type Job struct {
	ID             string
	Type           string
	Key            string
	Status         string
	ScheduledAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	PayloadJSON    string
	ResultJSON     string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

// Run is one daemon process lifetime.
type Run struct {
	ID         string
	Owner      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// Open opens or creates the daemon state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve daemon db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure daemon db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open daemon db: %w", err)
	}
	// One writer keeps claims serialised without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	store := &Store{DBPath: absPath, db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS daemon_runs (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daemon_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	job_key TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_type_key ON daemon_jobs(type, job_key);
CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON daemon_jobs(status, scheduled_at);

CREATE TABLE IF NOT EXISTS daemon_kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create daemon schema: %w", err)
	}
	return nil
}

// timeLayout is fixed width so stored times order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// EnqueueUnique enqueues a job unless one with the same type and key already
// exists. Returns (jobID, created, error).
func (s *Store) EnqueueUnique(jobType, key string, scheduledAt time.Time, payload any) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("job key is required")
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}

	var existingID string
	err = s.db.QueryRow(
		"SELECT id FROM daemon_jobs WHERE type = ? AND job_key = ?",
		jobType, key,
	).Scan(&existingID)
	if err == nil {
		return existingID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("check existing job: %w", err)
	}

	jobID := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO daemon_jobs (id, type, job_key, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, jobType, key, StatusQueued, formatTime(scheduledAt), string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	return jobID, true, nil
}

// ClaimNext atomically claims the oldest queued job due at now. It returns
// nil when nothing is due.
func (s *Store) ClaimNext(now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRow(`
		SELECT id FROM daemon_jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, StatusQueued, formatTime(now)).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next job: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE daemon_jobs
		SET status = ?,
		    started_at = ?,
		    lease_owner = ?,
		    lease_expires_at = ?
		WHERE id = ?
	`, StatusRunning, formatTime(now), leaseOwner, formatTime(now.Add(leaseFor)), jobID)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetJob(jobID)
}

// RequeueExpired returns running jobs whose lease ran out to the queue, so a
// job held by a crashed daemon is picked up again.
func (s *Store) RequeueExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE daemon_jobs
		SET status = ?,
		    lease_owner = NULL,
		    lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at < ?
	`, StatusQueued, StatusRunning, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const jobColumns = `id, type, job_key, status, scheduled_at, started_at, finished_at,
		       payload_json, result_json, lease_owner, lease_expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var scheduledAt string
	var startedAt, finishedAt, leaseExpiresAt sql.NullString
	var payloadJSON, resultJSON, leaseOwner sql.NullString

	err := row.Scan(
		&job.ID, &job.Type, &job.Key, &job.Status, &scheduledAt,
		&startedAt, &finishedAt, &payloadJSON, &resultJSON,
		&leaseOwner, &leaseExpiresAt,
	)
	if err != nil {
		return Job{}, err
	}
	if t := parseTime(sql.NullString{String: scheduledAt, Valid: true}); t != nil {
		job.ScheduledAt = *t
	}
	job.StartedAt = parseTime(startedAt)
	job.FinishedAt = parseTime(finishedAt)
	job.LeaseExpiresAt = parseTime(leaseExpiresAt)
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.LeaseOwner = leaseOwner.String
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*Job, error) {
	job, err := scanJob(s.db.QueryRow("SELECT "+jobColumns+" FROM daemon_jobs WHERE id = ?", jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Succeed marks a job as succeeded and stores its result.
func (s *Store) Succeed(jobID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.finish(jobID, StatusSucceeded, string(resultJSON))
}

// Fail marks a job as failed and stores the error message.
func (s *Store) Fail(jobID string, jobErr error) error {
	resultJSON, _ := json.Marshal(map[string]string{"error": jobErr.Error()})
	return s.finish(jobID, StatusFailed, string(resultJSON))
}

func (s *Store) finish(jobID, status, resultJSON string) error {
	_, err := s.db.Exec(`
		UPDATE daemon_jobs
		SET status = ?,
		    finished_at = ?,
		    result_json = ?,
		    lease_expires_at = NULL
		WHERE id = ?
	`, status, formatTime(time.Now()), resultJSON, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListRunning returns all jobs currently held under a lease.
func (s *Store) ListRunning() ([]Job, error) {
	return s.queryJobs(`WHERE status = ? ORDER BY scheduled_at ASC`, StatusRunning)
}

// ListQueued returns up to limit queued jobs, oldest first.
func (s *Store) ListQueued(limit int) ([]Job, error) {
	return s.queryJobs(`WHERE status = ? ORDER BY scheduled_at ASC LIMIT ?`, StatusQueued, limit)
}

// ListRecentCompleted returns recently finished jobs, newest first.
func (s *Store) ListRecentCompleted(limit int) ([]Job, error) {
	return s.queryJobs(`WHERE status IN (?, ?) ORDER BY finished_at DESC LIMIT ?`, StatusSucceeded, StatusFailed, limit)
}

func (s *Store) queryJobs(where string, args ...any) ([]Job, error) {
	rows, err := s.db.Query("SELECT "+jobColumns+" FROM daemon_jobs "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// StartRun records the start of a daemon process.
func (s *Store) StartRun(owner string, now time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO daemon_runs (id, owner, started_at, status) VALUES (?, ?, ?, ?)",
		id, owner, formatTime(now), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run record. A nil runErr marks it stopped.
func (s *Store) FinishRun(runID string, now time.Time, runErr error) error {
	status := "stopped"
	if runErr != nil {
		status = StatusFailed
	}
	_, err := s.db.Exec(
		"UPDATE daemon_runs SET finished_at = ?, status = ? WHERE id = ?",
		formatTime(now), status, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// LastRun returns the most recent daemon run, or nil when there is none.
func (s *Store) LastRun() (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString
	err := s.db.QueryRow(
		"SELECT id, owner, started_at, finished_at, status FROM daemon_runs ORDER BY started_at DESC LIMIT 1",
	).Scan(&run.ID, &run.Owner, &startedAt, &finishedAt, &run.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last run: %w", err)
	}
	if t := parseTime(sql.NullString{String: startedAt, Valid: true}); t != nil {
		run.StartedAt = *t
	}
	run.FinishedAt = parseTime(finishedAt)
	return &run, nil
}

// GetKV retrieves a value from the key-value store; a missing key yields "".
func (s *Store) GetKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM daemon_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV sets a value in the key-value store.
func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_kv (key, value)
		VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
