package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	hash        TEXT NOT NULL UNIQUE,
	parent_hash TEXT,
	content     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent_hash);

CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	hash        TEXT NOT NULL REFERENCES records(hash),
	started_at  TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	exit_code   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_hash ON runs(hash);
`

// SQLiteStorer is a Storer backed by a SQLite file.
type SQLiteStorer struct {
	db *sql.DB
}

// NewSQLiteStorer opens (creating if needed) the ledger at path. Use
// ":memory:" for a throwaway database.
func NewSQLiteStorer(path string) (*SQLiteStorer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open ledger %s: %w", path, err)
	}

	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create ledger schema: %w", err)
	}

	return &SQLiteStorer{db: db}, nil
}

func (s *SQLiteStorer) Put(ctx context.Context, record *Record) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("cannot store nil record")
	}

	content, err := json.Marshal(record.Content)
	if err != nil {
		return false, fmt.Errorf("could not marshal record content: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO records (hash, parent_hash, content, created_at) VALUES (?, ?, ?, ?)`,
		record.Hash, nullable(record.ParentHash), string(content), record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("could not insert record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorer) Get(ctx context.Context, hash string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, parent_hash, content, created_at FROM records WHERE hash = ?`, hash)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Hash: hash}
	}
	return r, err
}

func (s *SQLiteStorer) Has(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorer) Head(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, parent_hash, content, created_at FROM records ORDER BY seq DESC LIMIT 1`)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{}
	}
	return r, err
}

func (s *SQLiteStorer) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, parent_hash, content, created_at FROM records ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStorer) Ancestry(ctx context.Context, hash string) ([]*Record, error) {
	return ancestry(ctx, s, hash)
}

func (s *SQLiteStorer) AddRun(ctx context.Context, run Run) error {
	ok, err := s.Has(ctx, run.Hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound{Hash: run.Hash}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (hash, started_at, duration_ns, exit_code) VALUES (?, ?, ?, ?)`,
		run.Hash, run.StartedAt.UTC().Format(time.RFC3339Nano), int64(run.Duration), run.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("could not insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStorer) Runs(ctx context.Context, hash string) ([]Run, error) {
	ok, err := s.Has(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, started_at, duration_ns, exit_code FROM runs WHERE hash = ? ORDER BY id ASC`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			startedAt string
			duration  int64
		)
		if err := rows.Scan(&run.Hash, &startedAt, &duration, &run.ExitCode); err != nil {
			return nil, err
		}
		run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt run timestamp %q: %w", startedAt, err)
		}
		run.Duration = time.Duration(duration)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStorer) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r         Record
		parent    sql.NullString
		content   string
		createdAt string
	)
	if err := row.Scan(&r.Hash, &parent, &content, &createdAt); err != nil {
		return nil, err
	}

	if parent.Valid {
		p := parent.String
		r.ParentHash = &p
	}
	if err := json.Unmarshal([]byte(content), &r.Content); err != nil {
		return nil, fmt.Errorf("corrupt record content %s: %w", r.Hash, err)
	}

	var err error
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt record timestamp %q: %w", createdAt, err)
	}
	return &r, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
