package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Store is the relational job state machine.
//
// Safe for concurrent use; every mutation is a single guarded statement
// (or one transaction), so independently invoked handlers need no
// external lock.
type Store struct {
	db *sql.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for schema tooling and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Create inserts a new job row with status uploaded and returns the
// database-assigned job id.
//
// Returns ErrUnknownOwner when the owner row does not exist. Callers
// must create the row strictly before the source artifact becomes
// visible to the trigger, so a fast trigger never observes an object
// with no backing row.
func (s *Store) Create(ctx context.Context, ownerID int64, originalFilename, sourceKey string, class variant.BackendClass) (int64, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM owners WHERE owner_id = ?`, ownerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("owner %d: %w", ownerID, ErrUnknownOwner)
	}
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}

	now := nowStamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (owner_id, status, original_filename, source_key, result_key, backend_class, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?, ?)`,
		ownerID, StatusUploaded, originalFilename, sourceKey, string(class), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	jobID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("job id: %w", err)
	}
	return jobID, nil
}

// BeginProcessing applies the uploaded|processing -> processing
// transition for the job owning sourceKey.
//
// The transition is idempotent: re-invocation under duplicate trigger
// delivery is a no-op that still reports proceed=true, because the
// compute step is safe to re-run until a terminal state is recorded.
// proceed=false means there is nothing to compute: either no row matches
// (untracked object) or the row is already terminal.
func (s *Store) BeginProcessing(ctx context.Context, sourceKey string) (proceed bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE source_key = ? AND status IN (?, ?)`,
		StatusProcessing, nowStamp(), sourceKey, StatusUploaded, StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("begin processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin processing: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing matched: untracked object or terminal row.
	if _, err := s.GetBySourceKey(ctx, sourceKey); errors.Is(err, ErrNoSuchSource) {
		return false, ErrNoSuchSource
	} else if err != nil {
		return false, err
	}
	return false, ErrAlreadyTerminal
}

// Complete applies processing -> completed, recording the result key in
// the same statement so a reader can never observe a completed result
// key on a non-terminal row.
//
// Returns ErrNoSuchSource for an untracked object and ErrAlreadyTerminal
// when a terminal row rejected the transition (duplicate delivery); the
// first recorded result is never overwritten.
func (s *Store) Complete(ctx context.Context, sourceKey, resultKey string) error {
	return s.finish(ctx, sourceKey, resultKey, StatusCompleted)
}

func (s *Store) finish(ctx context.Context, sourceKey, resultKey string, terminal Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_key = ?, updated_at = ?
		WHERE source_key = ? AND status = ?`,
		terminal, resultKey, nowStamp(), sourceKey, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", terminal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record %s: %w", terminal, err)
	}
	if n > 0 {
		return nil
	}

	view, err := s.GetBySourceKey(ctx, sourceKey)
	if err != nil {
		return err
	}
	if view.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	return fmt.Errorf("record %s: job %d still %s", terminal, view.JobID, view.Status)
}

// Fail drives the job owning sourceKey to the error state, recording
// resultKey (the error-text artifact key, or empty when no artifact
// could be written).
//
// A row still in uploaded is moved through processing first, inside one
// transaction, so error is only ever recorded on a row that entered
// processing. Terminal rows are left untouched (ErrAlreadyTerminal).
// Fail is the last line of defense for surfacing a compute failure: any
// error it returns must be logged by the caller, never allowed to mask
// the failure that triggered it.
func (s *Store) Fail(ctx context.Context, sourceKey, resultKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE source_key = ?`, sourceKey).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("source %q: %w", sourceKey, ErrNoSuchSource)
	}
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	if status.IsTerminal() {
		return ErrAlreadyTerminal
	}

	now := nowStamp()
	if status == StatusUploaded {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, updated_at = ? WHERE source_key = ? AND status = ?`,
			StatusProcessing, now, sourceKey, StatusUploaded,
		); err != nil {
			return fmt.Errorf("record error: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_key = ?, updated_at = ? WHERE source_key = ? AND status = ?`,
		StatusError, resultKey, now, sourceKey, StatusProcessing,
	); err != nil {
		return fmt.Errorf("record error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	return nil
}

// Get returns the job view for a job id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID int64) (*JobView, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, selectJob+` WHERE job_id = ?`, jobID), ErrNotFound)
}

// GetBySourceKey returns the job view correlated with a source key, or
// ErrNoSuchSource.
func (s *Store) GetBySourceKey(ctx context.Context, sourceKey string) (*JobView, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, selectJob+` WHERE source_key = ?`, sourceKey), ErrNoSuchSource)
}

const selectJob = `
	SELECT job_id, owner_id, status, original_filename, source_key, result_key, backend_class, created_at, updated_at
	FROM jobs`

func (s *Store) scanJob(row *sql.Row, missing error) (*JobView, error) {
	var (
		v                    JobView
		class                string
		createdAt, updatedAt string
	)
	err := row.Scan(&v.JobID, &v.OwnerID, &v.Status, &v.OriginalFilename, &v.SourceKey, &v.ResultKey, &class, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	v.BackendClass = variant.BackendClass(class)
	// The store wrote these stamps itself, so a parse failure means the
	// row is corrupt and must not surface as a zero time.
	if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("scan job: parse created_at %q: %w", createdAt, err)
	}
	if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("scan job: parse updated_at %q: %w", updatedAt, err)
	}
	return &v, nil
}

// Owners returns the current owner set ordered by id.
func (s *Store) Owners(ctx context.Context) ([]Owner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id, username FROM owners ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Owner
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.OwnerID, &o.Username); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Reset clears all jobs and owners, resets the identifier sequences to
// their fixed starting offsets, and reseeds the fixed owner set.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM jobs;`,
		`DELETE FROM owners;`,
		`DELETE FROM sqlite_sequence WHERE name IN ('jobs', 'owners');`,
		// AUTOINCREMENT hands out seq+1, so store the offset minus one.
		fmt.Sprintf(`INSERT INTO sqlite_sequence (name, seq) VALUES ('owners', %d), ('jobs', %d);`,
			ownerSeqStart-1, jobSeqStart-1),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	for _, o := range seedOwners {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO owners (username, pwd_hash) VALUES (?, ?)`, o.username, o.pwdHash,
		); err != nil {
			return fmt.Errorf("reset: seed owner %s: %w", o.username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
