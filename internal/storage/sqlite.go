package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "timerbot/pkg/logx"
)

//go:embed migrations.sql
var schema string

// sqliteStore keeps profiles and totals as JSON documents and the audit log
// as rows.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	if busy > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// loadDoc decodes the doc column of the single row matched by query into v.
// It reports false when there is no such row.
func (s *sqliteStore) loadDoc(ctx context.Context, v any, query string, args ...any) (bool, error) {
	var doc []byte
	switch err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, json.Unmarshal(doc, v)
}

func (s *sqliteStore) LoadProfile(ctx context.Context, userID int64) (Profile, error) {
	var p Profile
	found, err := s.loadDoc(ctx, &p, `SELECT doc FROM profiles WHERE user_id = ?`, userID)
	switch {
	case err != nil:
		return Profile{}, fmt.Errorf("load profile %d: %w", userID, err)
	case !found:
		return Profile{}, ErrNotFound
	}
	p.UserID = userID
	return p, nil
}

func (s *sqliteStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.UserID == 0 {
		return errors.New("save profile: zero user id")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		p.UserID, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) ListProfileIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) LoadTotals(ctx context.Context) (Totals, error) {
	var t Totals
	if _, err := s.loadDoc(ctx, &t, `SELECT doc FROM totals WHERE id = 1`); err != nil {
		return Totals{}, fmt.Errorf("load totals: %w", err)
	}
	if t.Activities == nil {
		t.Activities = map[string]uint64{}
	}
	return t, nil
}

func (s *sqliteStore) SaveTotals(ctx context.Context, t Totals) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO totals (id, doc) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`, string(doc))
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (at, actor_id, actor_username, chat_id, action, target, err, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, optional(e.ActorUsername), e.ChatID,
		e.Action, e.Target, optional(e.Error), optional(e.MetaJSON))
	return err
}

// optional maps blank strings to NULL.
func optional(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
