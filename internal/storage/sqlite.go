package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "calsched/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// historyKeep bounds the history table per trigger; older rows are pruned
// every pruneEvery appends.
const (
	historyKeep = 1000
	pruneEvery  = 500
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveTrigger(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	name, err := cleanName(rec.Name)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triggers(name, job, calendar, state, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET job=excluded.job, calendar=excluded.calendar,
		   state=excluded.state, updated_at=excluded.updated_at`,
		name, rec.Job, rec.Calendar, string(state), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadTrigger(ctx context.Context, name string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrDisabled
	}
	name, err := cleanName(name)
	if err != nil {
		return Record{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT name, job, calendar, state, updated_at FROM triggers WHERE name = ?`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

func (s *sqliteStore) DeleteTrigger(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM triggers WHERE name = ?`, name)
	return err
}

func (s *sqliteStore) ListTriggers(ctx context.Context) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, job, calendar, state, updated_at FROM triggers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec            Record
		state, updated string
	)
	if err := sc.Scan(&rec.Name, &rec.Job, &rec.Calendar, &state, &updated); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return Record{}, fmt.Errorf("decode state %s: %w", rec.Name, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(at, trigger_name, kind, fire_time, instruction, err) VALUES(?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Trigger, e.Kind,
		nullTime(e.FireTime), nullStr(e.Instruction), nullStr(e.Error),
	)
	if err != nil {
		return err
	}
	if s.appends.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if err := s.pruneHistory(pctx, e.Trigger); err != nil {
			s.log.Debug("history prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) History(ctx context.Context, name string, limit int) ([]HistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, trigger_name, kind, fire_time, instruction, err FROM history
		 WHERE trigger_name = ? ORDER BY id DESC LIMIT ?`, strings.TrimSpace(name), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e                   HistoryEntry
			at                  string
			fireTime, ins, emsg sql.NullString
		)
		if err := rows.Scan(&at, &e.Trigger, &e.Kind, &fireTime, &ins, &emsg); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		if fireTime.Valid {
			e.FireTime, _ = time.Parse(time.RFC3339Nano, fireTime.String)
		}
		e.Instruction = ins.String
		e.Error = emsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneHistory(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE trigger_name = ? AND id NOT IN (
		   SELECT id FROM history WHERE trigger_name = ? ORDER BY id DESC LIMIT ?)`,
		name, name, historyKeep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
