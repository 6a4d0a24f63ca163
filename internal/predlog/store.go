// Package predlog keeps an audit trail of served predictions in a local
// SQLite database. Every prediction the server or CLI hands out is
// appended with its inputs, so any individual answer can be traced back
// to the exact submission and model that produced it.
package predlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// timeLayout is how created_at is stored; RFC3339Nano text sorts
// chronologically, which the recency index relies on.
const timeLayout = time.RFC3339Nano

// Record is one served prediction.
type Record struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Source      string            `json:"source"`
	Inputs      map[string]string `json:"inputs"`
	Label       string            `json:"label"`
	LabelCode   int               `json:"label_code"`
	Probability float64           `json:"probability"`
	ModelID     string            `json:"model_id"`
}

// Store is the SQLite-backed prediction log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the prediction log at the given path.
//
// The database runs in WAL mode with a single writer connection, so
// reads stay available while predictions stream in.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, kiterrors.Wrapf(err, "predlog: opening %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, kiterrors.Wrapf(err, "predlog: connecting to %s", path)
	}

	// SQLite supports one writer at a time; a second connection would
	// only ever see SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one prediction to the log.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return kiterrors.NewValidationError("id", "must not be empty", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	inputsJSON, err := json.Marshal(rec.Inputs)
	if err != nil {
		return kiterrors.Wrap(err, "predlog: encoding inputs")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions
		(id, created_at, source, inputs, label, label_code, probability, model_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.Source,
		string(inputsJSON),
		rec.Label,
		rec.LabelCode,
		rec.Probability,
		rec.ModelID,
	)
	if err != nil {
		return kiterrors.Wrap(err, "predlog: inserting prediction")
	}
	return nil
}

// Recent returns the most recent predictions, newest first.
// limit must be at least 1; callers cap it to taste.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit < 1 {
		return nil, kiterrors.NewValidationError("limit", "must be at least 1", limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source, inputs, label, label_code, probability, model_id
		FROM predictions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, kiterrors.Wrap(err, "predlog: querying predictions")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, kiterrors.Wrap(err, "predlog: iterating predictions")
	}
	return records, nil
}

// Count returns how many predictions the log holds.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, kiterrors.Wrap(err, "predlog: counting predictions")
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec        Record
		createdAt  string
		inputsJSON string
	)
	if err := rows.Scan(
		&rec.ID, &createdAt, &rec.Source, &inputsJSON,
		&rec.Label, &rec.LabelCode, &rec.Probability, &rec.ModelID,
	); err != nil {
		return Record{}, kiterrors.Wrap(err, "predlog: scanning prediction")
	}

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Record{}, kiterrors.Wrapf(err, "predlog: parsing created_at %q", createdAt)
	}
	rec.CreatedAt = ts

	if err := json.Unmarshal([]byte(inputsJSON), &rec.Inputs); err != nil {
		return Record{}, kiterrors.Wrap(err, "predlog: decoding inputs")
	}
	return rec, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return kiterrors.Wrapf(err, "predlog: executing %q", pragma)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return kiterrors.Wrap(err, "predlog: applying schema")
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return kiterrors.Wrap(err, "predlog: setting schema version")
	}
	return nil
}
