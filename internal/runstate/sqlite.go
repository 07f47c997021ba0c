package runstate

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "reportd/pkg/logx"
)

// DBFileName is the SQLite database inside Config.Dir.
const DBFileName = "runstate.db"

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("state.dir is required for sqlite driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBFileName))
	if err != nil {
		return nil, err
	}
	// Single writer; one connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	applyPragmas(db, sqlitePragmas(cfg), log)

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstate migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func sqlitePragmas(cfg Config) []string {
	var out []string
	if cfg.BusyTimeout > 0 {
		out = append(out, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	return append(out, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = FULL")
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// applyPragmas tunes the connection. A failed pragma is not fatal: the store
// still works, only with SQLite's defaults.
func applyPragmas(db execer, pragmas []string, log logx.Logger) {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (State, error) {
	if s == nil || s.db == nil {
		return State{}, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT day, slot FROM slot_runs ORDER BY day, slot`)
	if err != nil {
		return State{}, err
	}
	defer rows.Close()

	st := State{}
	for rows.Next() {
		var day, slot string
		if err := rows.Scan(&day, &slot); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		st[day] = append(st[day], slot)
	}
	if err := rows.Err(); err != nil {
		return State{}, err
	}
	return st, nil
}

func (s *sqliteStore) Save(ctx context.Context, st State) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slot_runs`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO slot_runs(day, slot) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for day, ids := range st {
		for _, id := range normalizeIDs(ids) {
			if _, err := stmt.ExecContext(ctx, day, id); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("run state saved", logx.Int("days", len(st)))
	return nil
}
