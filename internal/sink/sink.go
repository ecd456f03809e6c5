package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-lake/internal/artifact"
	"github.com/i474232898/weather-lake/internal/weather"
)

// ErrSink marks database and transaction failures. A load that hits one rolls
// back completely; partial inserts are never visible.
var ErrSink = errors.New("database sink error")

// ObjectStore is the slice of the gateway the sink needs: it will not load
// data it cannot source.
type ObjectStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ColumnMap names the sink table's columns. The historical deployments of
// this pipeline drifted between at least two naming conventions, so the
// mapping is configuration rather than hard-coded SQL.
type ColumnMap struct {
	FileName        string
	LocationID      string
	Temperature     string
	CloudCover      string
	SurfacePressure string
	WindSpeed       string
	WindDirection   string
	Time            string
}

// DefaultColumns is the current naming convention.
var DefaultColumns = ColumnMap{
	FileName:        "file_name",
	LocationID:      "location_id",
	Temperature:     "temp_f",
	CloudCover:      "cloud_cover_pct",
	SurfacePressure: "surface_pressure_hpa",
	WindSpeed:       "wind_speed_80m_mph",
	WindDirection:   "wind_direction_80m_deg",
	Time:            "time",
}

const tableName = "formatted_weather_data"

// LoadOutcome is the explicit result of a load attempt.
type LoadOutcome int

const (
	Loaded LoadOutcome = iota
	LoadSkippedMissing       // artifact absent from the object store
	LoadSkippedAlreadyLoaded // rows tagged with this filename already present
)

func (o LoadOutcome) String() string {
	switch o {
	case Loaded:
		return "loaded"
	case LoadSkippedMissing:
		return "skipped: not in object store"
	case LoadSkippedAlreadyLoaded:
		return "skipped: already loaded"
	default:
		return "unknown"
	}
}

// LoadResult reports what a Load call did.
type LoadResult struct {
	Outcome  LoadOutcome
	Filename string
	Rows     int
}

// DB is the slice of pgxpool the sink issues statements through. *pgxpool.Pool
// satisfies it; tests substitute a fake so the transactional paths run without
// a live server.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Sink loads staged artifacts into the relational table and answers
// provenance queries. The table's own rows, tagged by file_name, double as
// the already-loaded ledger; there is no separate bookkeeping table.
type Sink struct {
	db       DB
	pool     *pgxpool.Pool
	ownsPool bool
	schema   string
	store    ObjectStore
	cols     ColumnMap
}

// New opens a connection pool the sink owns; Close releases it.
func New(ctx context.Context, dsn, schema string, store ObjectStore) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing DSN: %v", ErrSink, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting: %v", ErrSink, err)
	}
	s := NewWithPool(pool, schema, store)
	s.ownsPool = true
	return s, nil
}

// NewWithPool wraps a caller-supplied pool. The sink never closes a pool it
// did not open; Close is a no-op here.
func NewWithPool(pool *pgxpool.Pool, schema string, store ObjectStore) *Sink {
	if schema == "" {
		schema = "WeatherData"
	}
	s := &Sink{
		pool:   pool,
		schema: schema,
		store:  store,
		cols:   DefaultColumns,
	}
	if pool != nil {
		s.db = pool
	}
	return s
}

// SetColumns overrides the table's column naming convention.
func (s *Sink) SetColumns(cols ColumnMap) { s.cols = cols }

// Close releases the pool if the sink owns it.
func (s *Sink) Close() {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Sink) table() string {
	return pgx.Identifier{s.schema, tableName}.Sanitize()
}

// EnsureSchema creates the schema and table if missing. The uniqueness
// constraint over (file_name, location_id, time) is the authoritative dedup
// backstop: the application-level already-loaded check is a fast path only,
// and two racing loads resolve at this constraint.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	c := s.cols
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{s.schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s DOUBLE PRECISION,
			%s DOUBLE PRECISION,
			%s DOUBLE PRECISION,
			%s DOUBLE PRECISION,
			%s DOUBLE PRECISION,
			%s TIMESTAMPTZ NOT NULL,
			UNIQUE (%s, %s, %s)
		)`, s.table(),
			quoteCol(c.FileName), quoteCol(c.LocationID), quoteCol(c.Temperature),
			quoteCol(c.CloudCover), quoteCol(c.SurfacePressure), quoteCol(c.WindSpeed),
			quoteCol(c.WindDirection), quoteCol(c.Time),
			quoteCol(c.FileName), quoteCol(c.LocationID), quoteCol(c.Time)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensuring schema: %v", ErrSink, err)
		}
	}
	return nil
}

// AlreadyLoaded reports whether any row tagged with filename exists. The
// check is filename-scoped, not per-row.
func (s *Sink) AlreadyLoaded(ctx context.Context, filename string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`,
		s.table(), quoteCol(s.cols.FileName))

	var exists bool
	if err := s.db.QueryRow(ctx, query, filename).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: already-loaded check for %s: %v", ErrSink, filename, err)
	}
	return exists, nil
}

// Load pulls the artifact at key from the object store and inserts its rows
// in a single transaction. The provenance filename is the key's base name.
// Short-circuits, in order: filename validation, artifact missing from the
// store (skip, not an error), already loaded (skip). An empty key derives
// today's filename.
func (s *Sink) Load(ctx context.Context, bucket, key string) (LoadResult, error) {
	if key == "" {
		key = artifact.Filename(time.Now().UTC())
	}
	filename := path.Base(key)
	if _, err := artifact.ParseFilename(filename); err != nil {
		return LoadResult{Filename: filename}, err
	}
	res := LoadResult{Filename: filename}

	inStore, err := s.store.Exists(ctx, bucket, key)
	if err != nil {
		return res, err
	}
	if !inStore {
		log.Printf("sink: %s not present in bucket %s, skipping load", filename, bucket)
		res.Outcome = LoadSkippedMissing
		return res, nil
	}

	loaded, err := s.AlreadyLoaded(ctx, filename)
	if err != nil {
		return res, err
	}
	if loaded {
		log.Printf("sink: %s already loaded, skipping insert", filename)
		res.Outcome = LoadSkippedAlreadyLoaded
		return res, nil
	}

	rows, err := s.downloadRows(ctx, bucket, key)
	if err != nil {
		return res, err
	}

	if err := s.insertRows(ctx, filename, rows); err != nil {
		return res, err
	}

	log.Printf("sink: inserted %d rows from %s", len(rows), filename)
	res.Outcome = Loaded
	res.Rows = len(rows)
	return res, nil
}

// Drain loads every not-yet-loaded CSV artifact found in the bucket, one
// transaction per file. A single file failing stops the drain; files already
// committed stay committed.
func (s *Sink) Drain(ctx context.Context, bucket string) (files, rows int, err error) {
	keys, err := s.store.List(ctx, bucket, "")
	if err != nil {
		return 0, 0, err
	}

	for _, key := range keys {
		if !strings.HasSuffix(key, ".csv") {
			continue
		}
		filename := path.Base(key)
		if _, err := artifact.ParseFilename(filename); err != nil {
			log.Printf("sink: skipping %s: not a staged artifact", key)
			continue
		}

		loaded, err := s.AlreadyLoaded(ctx, filename)
		if err != nil {
			return files, rows, err
		}
		if loaded {
			log.Printf("sink: skipping %s, already inserted", filename)
			continue
		}

		obs, err := s.downloadRows(ctx, bucket, key)
		if err != nil {
			return files, rows, err
		}
		if err := s.insertRows(ctx, filename, obs); err != nil {
			return files, rows, err
		}

		log.Printf("sink: inserted %d rows from %s", len(obs), filename)
		files++
		rows += len(obs)
	}
	return files, rows, nil
}

// Observations returns stored rows, optionally filtered by artifact filename
// and location, ordered by location then time.
func (s *Sink) Observations(ctx context.Context, filename, locationID string) ([]weather.Observation, error) {
	c := s.cols
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s FROM %s`,
		quoteCol(c.LocationID), quoteCol(c.Time), quoteCol(c.Temperature),
		quoteCol(c.CloudCover), quoteCol(c.SurfacePressure), quoteCol(c.WindSpeed),
		quoteCol(c.WindDirection), s.table())

	var conds []string
	var args []any
	if filename != "" {
		args = append(args, filename)
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteCol(c.FileName), len(args)))
	}
	if locationID != "" {
		args = append(args, locationID)
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteCol(c.LocationID), len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s, %s", quoteCol(c.LocationID), quoteCol(c.Time))

	dbRows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying observations: %v", ErrSink, err)
	}
	defer dbRows.Close()

	var out []weather.Observation
	for dbRows.Next() {
		var o weather.Observation
		if err := dbRows.Scan(&o.LocationID, &o.Time, &o.TemperatureF, &o.CloudCoverPct,
			&o.SurfacePressure, &o.WindSpeed80m, &o.WindDirection); err != nil {
			return nil, fmt.Errorf("%w: scanning observation: %v", ErrSink, err)
		}
		o.Time = o.Time.UTC()
		out = append(out, o)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading observations: %v", ErrSink, err)
	}
	return out, nil
}

func (s *Sink) downloadRows(ctx context.Context, bucket, key string) ([]weather.Observation, error) {
	body, err := s.store.Download(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	rows, err := artifact.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrSink, key, err)
	}
	return rows, nil
}

// insertRows writes all rows in one transaction, all-or-nothing. Any row
// failing — including a uniqueness-constraint hit from a racing load — rolls
// back the whole batch.
func (s *Sink) insertRows(ctx context.Context, filename string, rows []weather.Observation) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrSink, err)
	}
	defer tx.Rollback(ctx)

	c := s.cols
	insertSQL := fmt.Sprintf(`INSERT INTO %s
		(%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.table(),
		quoteCol(c.FileName), quoteCol(c.LocationID), quoteCol(c.Temperature),
		quoteCol(c.CloudCover), quoteCol(c.SurfacePressure), quoteCol(c.WindSpeed),
		quoteCol(c.WindDirection), quoteCol(c.Time))

	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(insertSQL, filename, r.LocationID, r.TemperatureF, r.CloudCoverPct,
			r.SurfacePressure, r.WindSpeed80m, r.WindDirection, r.Time)
	}

	br := tx.SendBatch(ctx, b)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%w: inserting rows from %s: %v", ErrSink, filename, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: closing batch for %s: %v", ErrSink, filename, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing %s: %v", ErrSink, filename, err)
	}
	return nil
}

func quoteCol(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
