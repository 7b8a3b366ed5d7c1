package scene

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/snowroute/internal/raster"
)

// Catalog is a SQLite-backed scene store. Metadata lives in columns so the
// predicates run in SQL; band data is a msgpack blob per scene.
type Catalog struct {
	db *sql.DB
}

// Summary describes a catalogued scene without its band data.
type Summary struct {
	ID       string
	Acquired time.Time
	CloudPct float64
	Grid     raster.Grid
	Bands    []string
}

// NewCatalog opens a SQLite catalog at the given path and configures WAL mode.
func NewCatalog(dsn string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "catalog: exec %s", pragma)
		}
	}
	return &Catalog{db: db}, nil
}

const catalogMigration = `
CREATE TABLE IF NOT EXISTS scenes (
	id          TEXT PRIMARY KEY,
	acquired    INTEGER NOT NULL,
	cloud_pct   REAL NOT NULL,
	min_x       REAL NOT NULL,
	min_y       REAL NOT NULL,
	max_x       REAL NOT NULL,
	max_y       REAL NOT NULL,
	grid        BLOB NOT NULL,
	band_names  BLOB NOT NULL,
	bands       BLOB NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scenes_acquired ON scenes(acquired);
CREATE INDEX IF NOT EXISTS idx_scenes_cloud_pct ON scenes(cloud_pct);
`

// Migrate creates the catalog schema.
func (c *Catalog) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, catalogMigration)
	return eris.Wrap(err, "catalog: migrate")
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Put inserts or replaces a scene.
func (c *Catalog) Put(ctx context.Context, s *raster.Scene) error {
	if s.ID == "" {
		return eris.New("catalog: scene id is required")
	}
	for name := range s.Bands {
		if _, err := s.Band(name); err != nil {
			return eris.Wrapf(err, "catalog: scene %s", s.ID)
		}
	}
	s.DropNonFinite()

	grid, err := msgpack.Marshal(s.Grid)
	if err != nil {
		return eris.Wrap(err, "catalog: encode grid")
	}
	names := make([]string, 0, len(s.Bands))
	for name := range s.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	nameBlob, err := msgpack.Marshal(names)
	if err != nil {
		return eris.Wrap(err, "catalog: encode band names")
	}
	bands, err := msgpack.Marshal(s.Bands)
	if err != nil {
		return eris.Wrap(err, "catalog: encode bands")
	}

	fp := s.Footprint()
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO scenes (id, acquired, cloud_pct, min_x, min_y, max_x, max_y, grid, band_names, bands)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Acquired.UTC().Unix(), s.CloudPct,
		fp.Min(0), fp.Min(1), fp.Max(0), fp.Max(1),
		grid, nameBlob, bands,
	)
	return eris.Wrapf(err, "catalog: put scene %s", s.ID)
}

// Scenes implements Source.
func (c *Catalog) Scenes(ctx context.Context, q Query) ([]*raster.Scene, error) {
	query := `SELECT id, acquired, cloud_pct, grid, bands FROM scenes
		WHERE acquired >= ? AND acquired < ? AND cloud_pct < ?`
	args := []any{q.Start.UTC().Unix(), q.End.UTC().Unix(), q.MaxCloudPct}
	if q.Bounds != nil {
		query += ` AND max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?`
		args = append(args, q.Bounds.Min(0), q.Bounds.Max(0), q.Bounds.Min(1), q.Bounds.Max(1))
	}
	query += ` ORDER BY acquired, id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query scenes")
	}
	defer rows.Close()

	var scenes []*raster.Scene
	for rows.Next() {
		var (
			s         raster.Scene
			acquired  int64
			gridBlob  []byte
			bandsBlob []byte
		)
		if err := rows.Scan(&s.ID, &acquired, &s.CloudPct, &gridBlob, &bandsBlob); err != nil {
			return nil, eris.Wrap(err, "catalog: scan scene")
		}
		s.Acquired = time.Unix(acquired, 0).UTC()
		if err := msgpack.Unmarshal(gridBlob, &s.Grid); err != nil {
			return nil, eris.Wrapf(err, "catalog: decode grid for %s", s.ID)
		}
		if err := msgpack.Unmarshal(bandsBlob, &s.Bands); err != nil {
			return nil, eris.Wrapf(err, "catalog: decode bands for %s", s.ID)
		}
		scenes = append(scenes, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate scenes")
	}

	return Filter(scenes, q), nil
}

// List returns a summary of every catalogued scene ordered by date.
func (c *Catalog) List(ctx context.Context) ([]Summary, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, acquired, cloud_pct, grid, band_names FROM scenes ORDER BY acquired, id`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list scenes")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s        Summary
			acquired int64
			gridBlob []byte
			nameBlob []byte
		)
		if err := rows.Scan(&s.ID, &acquired, &s.CloudPct, &gridBlob, &nameBlob); err != nil {
			return nil, eris.Wrap(err, "catalog: scan summary")
		}
		s.Acquired = time.Unix(acquired, 0).UTC()
		if err := msgpack.Unmarshal(gridBlob, &s.Grid); err != nil {
			return nil, eris.Wrapf(err, "catalog: decode grid for %s", s.ID)
		}
		if err := msgpack.Unmarshal(nameBlob, &s.Bands); err != nil {
			return nil, eris.Wrapf(err, "catalog: decode band names for %s", s.ID)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate summaries")
	}
	return out, nil
}

// ReadSceneFile decodes a msgpack-encoded scene, as written by WriteSceneFile.
func ReadSceneFile(r io.Reader) (*raster.Scene, error) {
	var s raster.Scene
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, eris.Wrap(err, "catalog: decode scene file")
	}
	for name, b := range s.Bands {
		if b == nil || len(b.Valid) != len(b.Values) {
			return nil, eris.Errorf("catalog: scene %s band %q has mismatched values and validity", s.ID, name)
		}
	}
	if n := s.DropNonFinite(); n > 0 {
		zap.L().Debug("catalog: non-finite pixels marked no data", zap.String("scene", s.ID), zap.Int("pixels", n))
	}
	return &s, nil
}

// WriteSceneFile encodes a scene as msgpack.
func WriteSceneFile(w io.Writer, s *raster.Scene) error {
	return eris.Wrap(msgpack.NewEncoder(w).Encode(s), "catalog: encode scene file")
}
