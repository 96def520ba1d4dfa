package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rotabot/internal/schedule"
	logx "rotabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) Queue(ctx context.Context) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, username, first_name, last_name, position, added_at
		 FROM queue ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var (
			e           QueueEntry
			first, last sql.NullString
			added       string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &first, &last, &e.Position, &added); err != nil {
			return nil, err
		}
		e.FirstName = first.String
		e.LastName = last.String
		e.AddedAt = parseTime(added)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveQueue(ctx context.Context, entries []QueueEntry, rem *ActiveReminder) ([]QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Drop rows that are no longer part of the ordering.
	kept := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if e.ID != 0 {
			kept[e.ID] = true
		}
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM queue`)
	if err != nil {
		return nil, err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		if !kept[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}

	// Two-phase position rewrite: unique index on position would otherwise
	// reject intermediate states during a rotation.
	for _, e := range entries {
		if e.ID == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE queue SET position = position + 1000000 WHERE id = ?`, e.ID); err != nil {
			return nil, err
		}
	}

	saved := make([]QueueEntry, len(entries))
	copy(saved, entries)
	for i, e := range saved {
		if e.AddedAt.IsZero() {
			e.AddedAt = time.Now()
			saved[i].AddedAt = e.AddedAt
		}
		if e.ID == 0 {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO queue(user_id, username, first_name, last_name, position, added_at)
				 VALUES(?,?,?,?,?,?)`,
				e.UserID, e.Username, nullStr(e.FirstName), nullStr(e.LastName), e.Position, formatTime(e.AddedAt))
			if err != nil {
				return nil, err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			saved[i].ID = id
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue SET user_id = ?, username = ?, first_name = ?, last_name = ?, position = ? WHERE id = ?`,
			e.UserID, e.Username, nullStr(e.FirstName), nullStr(e.LastName), e.Position, e.ID); err != nil {
			return nil, err
		}
	}

	if err := writeReminder(ctx, tx, rem); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *sqliteStore) ActiveReminder(ctx context.Context) (*ActiveReminder, error) {
	var (
		r         ActiveReminder
		created   string
		lastPulse string
		nextPulse sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT entry_id, user_id, username, pulses, created_at, last_pulse_at, next_pulse_at
		 FROM active_reminder WHERE id = 1`).
		Scan(&r.EntryID, &r.UserID, &r.Username, &r.Pulses, &created, &lastPulse, &nextPulse)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	r.LastPulseAt = parseTime(lastPulse)
	if nextPulse.Valid {
		r.NextPulseAt = parseTime(nextPulse.String)
	}
	return &r, nil
}

func (s *sqliteStore) SetActiveReminder(ctx context.Context, rem *ActiveReminder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := writeReminder(ctx, tx, rem); err != nil {
		return err
	}
	return tx.Commit()
}

func writeReminder(ctx context.Context, tx *sql.Tx, rem *ActiveReminder) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_reminder WHERE id = 1`); err != nil {
		return err
	}
	if rem == nil {
		return nil
	}
	var next any
	if !rem.NextPulseAt.IsZero() {
		next = formatTime(rem.NextPulseAt)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO active_reminder(id, entry_id, user_id, username, pulses, created_at, last_pulse_at, next_pulse_at)
		 VALUES(1,?,?,?,?,?,?,?)`,
		rem.EntryID, rem.UserID, rem.Username, rem.Pulses,
		formatTime(rem.CreatedAt), formatTime(rem.LastPulseAt), next)
	return err
}

func (s *sqliteStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(user_id, action, at, note) VALUES(?,?,?,?)`,
		rec.UserID, rec.Action, formatTime(rec.At), nullStr(rec.Note))
	return err
}

func (s *sqliteStore) Schedule(ctx context.Context, kind schedule.Kind) (schedule.Spec, bool, error) {
	var sp schedule.Spec
	err := s.db.QueryRowContext(ctx,
		`SELECT day, hour, minute FROM schedules WHERE kind = ?`, string(kind)).
		Scan(&sp.Day, &sp.Hour, &sp.Minute)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Spec{}, false, nil
	}
	if err != nil {
		return schedule.Spec{}, false, err
	}
	return sp, true, nil
}

func (s *sqliteStore) SetSchedule(ctx context.Context, kind schedule.Kind, spec schedule.Spec) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(kind, day, hour, minute, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(kind) DO UPDATE SET
		   day = excluded.day, hour = excluded.hour, minute = excluded.minute, updated_at = excluded.updated_at`,
		string(kind), spec.Day, spec.Hour, spec.Minute, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) GroupChatID(ctx context.Context) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT chat_id FROM group_chat WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *sqliteStore) SetGroupChatID(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_chat(id, chat_id, updated_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET chat_id = excluded.chat_id, updated_at = excluded.updated_at`,
		chatID, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) SkipOnce(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM skip_once`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) SetSkipOnce(ctx context.Context, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skip_once(id, reason, created_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET reason = excluded.reason, created_at = excluded.created_at`,
		nullStr(reason), formatTime(time.Now()))
	return err
}

func (s *sqliteStore) ClearSkipOnce(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM skip_once`)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
