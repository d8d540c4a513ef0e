package jobstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Sequence offsets applied by Reset. These match the identifiers the
// client protocol was built against.
const (
	ownerSeqStart = 80001
	jobSeqStart   = 1001
)

// Migrate creates the jobs schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			owner_id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			pwd_hash TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS jobs (
			job_id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			-- source_key is set once at creation and never changes; every
			-- transition is keyed by it.
			source_key TEXT NOT NULL UNIQUE,
			result_key TEXT NOT NULL DEFAULT '',
			backend_class TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(owner_id) REFERENCES owners(owner_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner_id ON jobs(owner_id);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	// Seed the fixed owner set on a fresh database. Explicit ids start
	// the AUTOINCREMENT sequence at the protocol's owner offset (and
	// materialize sqlite_sequence, which Reset rewrites).
	var owners int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM owners`).Scan(&owners); err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners == 0 {
		for i, o := range seedOwners {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO owners (owner_id, username, pwd_hash) VALUES (?, ?, ?)`,
				ownerSeqStart+int64(i), o.username, o.pwdHash,
			); err != nil {
				return fmt.Errorf("seed owner %s: %w", o.username, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sqlite_sequence (name, seq)
			SELECT 'jobs', ? WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = 'jobs')`,
			jobSeqStart-1,
		); err != nil {
			return fmt.Errorf("seed job sequence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// seedOwners is the fixed owner set Reset installs.
var seedOwners = []struct {
	username string
	pwdHash  string
}{
	{"b_cheng", "$2y$10$/8B5evVyaHF.hxVx0i6dUe2JpW89EZno/VISnsiD1xSh6ZQsNMtXK"},
	{"h_wang", "$2y$10$F.FBSF4zlas/RpHAxqsuF.YbryKNr53AcKBR3CbP2KsgZyMxOI2z2"},
	{"s_zhu", "$2y$10$GmIzRsGKP7bd9MqH.mErmuKvZQ013kPfkKbeUAHxar5bn1vu9.sdK"},
}
