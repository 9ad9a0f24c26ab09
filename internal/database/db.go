package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Alias1177/doublewatch/models"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrWrite wraps any failure inside an insert batch. The batch was rolled back and can be retried.
var ErrWrite = errors.New("outcome batch not written")

// DB is the outcome store
type DB struct {
	*sql.DB
	driver    string
	retention int
	tolerance time.Duration
	logger    zerolog.Logger
}

// ConnectionParams holds connection and retention parameters
type ConnectionParams struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the SQLite file, ":memory:" for an in-memory database
	Path string

	Retention      int
	DedupTolerance time.Duration
}

// DSN builds the driver specific data source name
func (p ConnectionParams) DSN() string {
	if p.Driver == DriverSQLite {
		return p.Path
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// New opens the database, checks the connection and creates the schema
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	if params.Driver == "" {
		params.Driver = DriverPostgres
	}
	if params.Driver != DriverPostgres && params.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", params.Driver)
	}
	if params.Retention < 1 {
		return nil, fmt.Errorf("retention ceiling must be positive, got %d", params.Retention)
	}

	db, err := sql.Open(params.Driver, params.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if params.Driver == DriverSQLite {
		// One connection keeps :memory: databases shared and avoids "database is locked".
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	// Check connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &DB{
		DB:        db,
		driver:    params.Driver,
		retention: params.Retention,
		tolerance: params.DedupTolerance,
		logger:    log.With().Str("component", "outcome_store").Logger(),
	}

	if err := store.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Retention returns the configured retention ceiling
func (db *DB) Retention() int {
	return db.retention
}

// createTables creates the outcomes table and its indexes if they don't exist
func (db *DB) createTables(ctx context.Context) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if db.driver == DriverSQLite {
		// AUTOINCREMENT stops SQLite from reusing ids of trimmed rows.
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id ` + idColumn + `,
			color TEXT NOT NULL,
			number INTEGER NOT NULL,
			observed_at BIGINT NOT NULL,
			source_tag TEXT NOT NULL DEFAULT '',
			external_id TEXT UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_key ON outcomes (color, number, observed_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertBatch stores rounds given oldest-first and trims the table to the
// retention ceiling. Rounds matching an already stored round are skipped.
// Inserts and trim commit together or not at all.
func (db *DB) InsertBatch(ctx context.Context, rounds []models.RawRound) ([]models.Outcome, error) {
	if len(rounds) == 0 {
		return nil, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrWrite, err)
	}
	defer tx.Rollback() // no-op after commit

	inserted := make([]models.Outcome, 0, len(rounds))
	for _, r := range rounds {
		o, ok, err := db.insertOne(ctx, tx, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if ok {
			inserted = append(inserted, o)
		}
	}

	trimmed, err := db.trim(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: trim: %v", ErrWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrWrite, err)
	}

	if len(inserted) > 0 || trimmed > 0 {
		db.logger.Debug().
			Int("received", len(rounds)).
			Int("inserted", len(inserted)).
			Int64("trimmed", trimmed).
			Msg("Batch stored")
	}
	return inserted, nil
}

func (db *DB) insertOne(ctx context.Context, tx *sql.Tx, r models.RawRound) (models.Outcome, bool, error) {
	observed := models.ToMillis(r.ObservedAt)

	dup, err := db.isDuplicate(ctx, tx, r, observed)
	if err != nil {
		return models.Outcome{}, false, err
	}
	if dup {
		return models.Outcome{}, false, nil
	}

	var externalID sql.NullString
	if r.ExternalID != "" {
		externalID = sql.NullString{String: r.ExternalID, Valid: true}
	}

	var id int64
	err = tx.QueryRowContext(ctx, db.rebind(`
		INSERT INTO outcomes (color, number, observed_at, source_tag, external_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id
	`), string(r.Color), r.Number, observed, r.SourceTag, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Outcome{}, false, nil
	}
	if err != nil {
		return models.Outcome{}, false, fmt.Errorf("inserting round: %w", err)
	}

	return models.Outcome{
		ID:         id,
		Color:      r.Color,
		Number:     r.Number,
		ObservedAt: models.FromMillis(observed),
		SourceTag:  r.SourceTag,
	}, true, nil
}

// isDuplicate checks the dedup key: the external id when present, otherwise
// color and number within the tolerance around observed_at.
func (db *DB) isDuplicate(ctx context.Context, tx *sql.Tx, r models.RawRound, observed int64) (bool, error) {
	var (
		query string
		args  []any
	)
	if r.ExternalID != "" {
		query = `SELECT 1 FROM outcomes WHERE external_id = ? LIMIT 1`
		args = []any{r.ExternalID}
	} else {
		tol := db.tolerance.Milliseconds()
		query = `SELECT 1 FROM outcomes WHERE color = ? AND number = ? AND observed_at BETWEEN ? AND ? LIMIT 1`
		args = []any{string(r.Color), r.Number, observed - tol, observed + tol}
	}

	var one int
	err := tx.QueryRowContext(ctx, db.rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking duplicate: %w", err)
	}
	return true, nil
}

// trim deletes every row older than the newest `retention` rows
func (db *DB) trim(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, db.rebind(`
		DELETE FROM outcomes
		WHERE id <= (
			SELECT id FROM outcomes ORDER BY id DESC LIMIT 1 OFFSET ?
		)
	`), db.retention)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Latest returns at most n outcomes, newest first
func (db *DB) Latest(ctx context.Context, n int) ([]models.Outcome, error) {
	if n <= 0 {
		return []models.Outcome{}, nil
	}

	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT id, color, number, observed_at, source_tag
		FROM outcomes
		ORDER BY id DESC
		LIMIT ?
	`), n)
	if err != nil {
		return nil, fmt.Errorf("querying latest outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]models.Outcome, 0, n)
	for rows.Next() {
		var (
			o        models.Outcome
			color    string
			observed int64
		)
		if err := rows.Scan(&o.ID, &color, &o.Number, &observed, &o.SourceTag); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Color = models.Color(color)
		o.ObservedAt = models.FromMillis(observed)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Count returns the number of stored outcomes
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outcomes: %w", err)
	}
	return n, nil
}

// Purge deletes every stored outcome. Ids keep growing afterwards.
func (db *DB) Purge(ctx context.Context) error {
	res, err := db.ExecContext(ctx, `DELETE FROM outcomes`)
	if err != nil {
		return fmt.Errorf("purging outcomes: %w", err)
	}
	n, _ := res.RowsAffected()
	db.logger.Warn().Int64("deleted", n).Msg("Outcome history purged")
	return nil
}
