package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/snowroute/internal/db"
)

// PostgresStore implements Store using pgxpool. Route geometry is stored as
// EWKB so the column can be cast to a PostGIS geometry where available.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertRunSQL    = `INSERT INTO runs (id, created_at, scenes, min_index, params) VALUES ($1, $2, $3, $4, $5)`
	selectRunSQL    = `SELECT id, created_at, scenes, min_index, params FROM runs`
	selectRoutesSQL = `SELECT rank, name, sparse, patchy, extensive, full_cover, danger_index, covered, is_safest, geom FROM route_scores WHERE run_id = $1 ORDER BY rank`
)

var routeScoreColumns = []string{
	"run_id", "rank", "name", "sparse", "patchy", "extensive", "full_cover",
	"danger_index", "covered", "is_safest", "geom",
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":    insertRunSQL,
	"select_routes": selectRoutesSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	scenes     INTEGER NOT NULL,
	min_index  DOUBLE PRECISION NOT NULL,
	params     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS route_scores (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rank         INTEGER NOT NULL,
	name         TEXT NOT NULL,
	sparse       BIGINT NOT NULL,
	patchy       BIGINT NOT NULL,
	extensive    BIGINT NOT NULL,
	full_cover   BIGINT NOT NULL,
	danger_index DOUBLE PRECISION NOT NULL,
	covered      BOOLEAN NOT NULL,
	is_safest    BOOLEAN NOT NULL,
	geom         BYTEA,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveRun writes the run row and COPYs its route scores in one transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, run *Run) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal params")
	}

	rows := make([][]any, 0, len(run.Routes))
	for _, rs := range run.Routes {
		g, err := encodeEWKB(rs.Geometry)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode route %q", rs.Name)
		}
		rows = append(rows, []any{
			run.ID, rs.Rank, rs.Name,
			rs.Histogram[0], rs.Histogram[1], rs.Histogram[2], rs.Histogram[3],
			rs.Index, rs.Covered, rs.IsSafest, g,
		})
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRunSQL, run.ID, run.CreatedAt, run.Scenes, run.MinIndex, paramsJSON); err != nil {
			return eris.Wrapf(err, "postgres: insert run %s", run.ID)
		}
		if _, err := db.CopyFrom(ctx, tx, "route_scores", routeScoreColumns, rows); err != nil {
			return eris.Wrapf(err, "postgres: insert routes for run %s", run.ID)
		}
		return nil
	})
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.loadRun(ctx, selectRunSQL+` WHERE id = $1`, id)
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*Run, error) {
	return s.loadRun(ctx, selectRunSQL+` ORDER BY created_at DESC LIMIT 1`)
}

func (s *PostgresStore) loadRun(ctx context.Context, query string, args ...any) (*Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}

	rows, err := s.pool.Query(ctx, selectRoutesSQL, r.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get routes for run %s", r.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var rs RouteScore
		var g []byte
		if err := rows.Scan(&rs.Rank, &rs.Name,
			&rs.Histogram[0], &rs.Histogram[1], &rs.Histogram[2], &rs.Histogram[3],
			&rs.Index, &rs.Covered, &rs.IsSafest, &g); err != nil {
			return nil, eris.Wrap(err, "postgres: scan route")
		}
		if rs.Geometry, err = decodeEWKB(g); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode route %q", rs.Name)
		}
		r.Routes = append(r.Routes, rs)
	}
	return r, eris.Wrap(rows.Err(), "postgres: get routes iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := selectRunSQL + ` WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*Run, error) {
	var r Run
	var paramsJSON []byte
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Scenes, &r.MinIndex, &paramsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	return &r, nil
}

func encodeEWKB(g geom.T) ([]byte, error) {
	if isEmpty(g) {
		return nil, nil
	}
	return ewkb.Marshal(g, binary.LittleEndian)
}

func decodeEWKB(b []byte) (geom.T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return ewkb.Unmarshal(b)
}

func isEmpty(g geom.T) bool {
	if g == nil {
		return true
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		return gc.NumGeoms() == 0
	}
	return false
}
