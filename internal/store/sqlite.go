package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Route geometry is
// stored as WKB.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	scenes     INTEGER NOT NULL,
	min_index  REAL NOT NULL,
	params     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS route_scores (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rank         INTEGER NOT NULL,
	name         TEXT NOT NULL,
	sparse       INTEGER NOT NULL,
	patchy       INTEGER NOT NULL,
	extensive    INTEGER NOT NULL,
	full_cover   INTEGER NOT NULL,
	danger_index REAL NOT NULL,
	covered      INTEGER NOT NULL,
	is_safest    INTEGER NOT NULL,
	geom         BLOB,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

const sqliteSelectRun = `SELECT id, created_at, scenes, min_index, params FROM runs`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal params")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, scenes, min_index, params) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.Scenes, run.MinIndex, string(paramsJSON),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO route_scores
		(run_id, rank, name, sparse, patchy, extensive, full_cover, danger_index, covered, is_safest, geom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare route insert")
	}
	defer stmt.Close()

	for _, rs := range run.Routes {
		g, err := encodeWKB(rs.Geometry)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode route %q", rs.Name)
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, rs.Rank, rs.Name,
			rs.Histogram[0], rs.Histogram[1], rs.Histogram[2], rs.Histogram[3],
			rs.Index, rs.Covered, rs.IsSafest, g,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert route %q", rs.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.loadRun(ctx, sqliteSelectRun+` WHERE id = ?`, id)
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	return s.loadRun(ctx, sqliteSelectRun+` ORDER BY created_at DESC, rowid DESC LIMIT 1`)
}

func (s *SQLiteStore) loadRun(ctx context.Context, query string, args ...any) (*Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rank, name, sparse, patchy, extensive, full_cover, danger_index, covered, is_safest, geom
		FROM route_scores WHERE run_id = ? ORDER BY rank`, r.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get routes for run %s", r.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var rs RouteScore
		var g []byte
		if err := rows.Scan(&rs.Rank, &rs.Name,
			&rs.Histogram[0], &rs.Histogram[1], &rs.Histogram[2], &rs.Histogram[3],
			&rs.Index, &rs.Covered, &rs.IsSafest, &g); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan route")
		}
		if rs.Geometry, err = decodeWKB(g); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode route %q", rs.Name)
		}
		r.Routes = append(r.Routes, rs)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: get routes iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := sqliteSelectRun + ` WHERE 1=1`
	var args []any

	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UnixMilli())
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*Run, error) {
	var r Run
	var created int64
	var paramsJSON string
	if err := row.Scan(&r.ID, &created, &r.Scenes, &r.MinIndex, &paramsJSON); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	return &r, nil
}

func encodeWKB(g geom.T) ([]byte, error) {
	if isEmpty(g) {
		return nil, nil
	}
	return wkb.Marshal(g, wkb.NDR)
}

func decodeWKB(b []byte) (geom.T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return wkb.Unmarshal(b)
}
