// Package store persists schedule definitions in SQLite. It is the
// storage collaborator behind the grid evaluator: callers read a full
// snapshot per display refresh, never an incremental feed.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get/Delete when no row has the given id.
var ErrNotFound = errors.New("schedule not found")

// Store is a SQLite-backed schedule collection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const scheduleColumns = `id, name, active, schedule_type, time_of_day, days_of_week, day_of_month, repeat_type, source`

// List returns all schedules ordered by insertion id. Rows with unknown
// schedule types decode to a nil rule: they stay visible to CRUD but
// never match a cell.
func (s *Store) List(ctx context.Context) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := make([]model.Schedule, 0)
	for rows.Next() {
		sched, _, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// Get returns a single schedule by id.
func (s *Store) Get(ctx context.Context, id string) (model.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, _, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}
	return sched, nil
}

// Put inserts or replaces a schedule. An empty id gets a fresh UUID;
// the (possibly minted) id is returned.
func (s *Store) Put(ctx context.Context, sched model.Schedule) (string, error) {
	return s.put(ctx, sched, "")
}

func (s *Store) put(ctx context.Context, sched model.Schedule, source string) (string, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	kind, weekdays, monthDay := model.RuleFields(sched.Rule)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, name, active, schedule_type, time_of_day, days_of_week, day_of_month, repeat_type, source, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, active=excluded.active,
		   schedule_type=excluded.schedule_type, time_of_day=excluded.time_of_day,
		   days_of_week=excluded.days_of_week, day_of_month=excluded.day_of_month,
		   repeat_type=excluded.repeat_type, source=excluded.source,
		   updated_at=excluded.updated_at`,
		sched.ID, sched.Name, boolToInt(sched.Active), kind, sched.TimeOfDay,
		joinWeekdays(weekdays), monthDay, sched.Repeat, source,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("put schedule: %w", err)
	}
	return sched.ID, nil
}

// Delete removes a schedule by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSource swaps all schedules tagged with the given source for the
// supplied set, in one transaction. Used by the ICS refresh loop so a
// re-imported feed replaces its previous rows without touching schedules
// created through the API (which carry an empty source).
func (s *Store) ReplaceSource(ctx context.Context, source string, schedules []model.Schedule) error {
	if source == "" {
		return errors.New("source is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE source = ?`, source); err != nil {
		return fmt.Errorf("clear source %q: %w", source, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, sched := range schedules {
		if sched.ID == "" {
			sched.ID = uuid.NewString()
		}
		kind, weekdays, monthDay := model.RuleFields(sched.Rule)
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO schedules(id, name, active, schedule_type, time_of_day, days_of_week, day_of_month, repeat_type, source, updated_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			sched.ID, sched.Name, boolToInt(sched.Active), kind, sched.TimeOfDay,
			joinWeekdays(weekdays), monthDay, sched.Repeat, source, now,
		)
		if err != nil {
			return fmt.Errorf("insert schedule %q: %w", sched.ID, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (model.Schedule, string, error) {
	var (
		sched    model.Schedule
		active   int
		kind     string
		days     string
		monthDay int
		source   string
	)
	err := r.Scan(&sched.ID, &sched.Name, &active, &kind, &sched.TimeOfDay,
		&days, &monthDay, &sched.Repeat, &source)
	if err != nil {
		return model.Schedule{}, "", err
	}
	sched.Active = active != 0
	sched.Rule = model.ParseRule(kind, splitWeekdays(days), monthDay)
	if sched.Rule == nil && kind != "" {
		appLog.Debug("schedule has unknown type, will never match", "id", sched.ID, "schedule_type", kind)
	}
	return sched, source, nil
}

func joinWeekdays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func splitWeekdays(v string) []int {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
