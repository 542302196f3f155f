package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	logx "ipwatch/pkg/logx"
)

type dialect struct {
	name    string
	driver  string
	ddl     string
	selectQ string
	upsertQ string
}

var (
	dialectSQLite = dialect{
		name:   "sqlite",
		driver: "sqlite",
		ddl: `CREATE TABLE IF NOT EXISTS watch_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		selectQ: `SELECT payload FROM watch_state WHERE id = 1`,
		upsertQ: `INSERT INTO watch_state(id, payload, updated_at) VALUES(1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
	}
	dialectPostgres = dialect{
		name:   "postgres",
		driver: "pgx",
		ddl: `CREATE TABLE IF NOT EXISTS watch_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		selectQ: `SELECT payload FROM watch_state WHERE id = 1`,
		upsertQ: `INSERT INTO watch_state(id, payload, updated_at) VALUES(1, $1, $2)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
	}
)

// sqlStore keeps the record in a single row, replaced inside a transaction.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

// applyPragmas runs each statement and warns on failure. The store still
// opens, without the durability or locking setting that failed.
func applyPragmas(ctx context.Context, db *sql.DB, log logx.Logger, stmts ...string) {
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", q), logx.Err(err))
		}
	}
}

func openSQL(ctx context.Context, d dialect, cfg Config, log logx.Logger) (Store, error) {
	var dsn string
	switch d.name {
	case "sqlite":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errors.New("state.path is required for sqlite driver")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = path
	default:
		dsn = strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, errors.New("state.dsn is required for postgres driver")
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == "sqlite" {
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			// FULL: a committed change must survive power loss.
			"PRAGMA synchronous = FULL",
		}
		if cfg.BusyTimeout > 0 {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
		}
		applyPragmas(ctx, db, log, pragmas...)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	if _, err := db.ExecContext(ctx, d.ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure %s state table: %w", d.name, err)
	}
	return &sqlStore{db: db, d: d, log: log}, nil
}

func (s *sqlStore) Load(ctx context.Context) (Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.d.selectQ).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}.Clone(), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("select state: %w", err)
	}
	return decodeRecord([]byte(payload))
}

func (s *sqlStore) Save(ctx context.Context, r Record) error {
	b, err := encodeRecord(r)
	if err != nil {
		return &PersistenceError{Driver: s.d.name, Op: "encode", Err: err}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Driver: s.d.name, Op: "begin", Err: err}
	}
	var at any = time.Now().UTC()
	if s.d.name == "sqlite" {
		at = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(ctx, s.d.upsertQ, string(b), at); err != nil {
		_ = tx.Rollback()
		return &PersistenceError{Driver: s.d.name, Op: "upsert", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Driver: s.d.name, Op: "commit", Err: err}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
