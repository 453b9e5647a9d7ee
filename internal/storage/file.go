package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "timerbot/pkg/logx"
)

// fileStore keeps one JSON document per user.
//
// Layout under Path:
//   - players/<user_id>.json
//   - totals.json
//   - audit.jsonl (append-only JSON Lines)
//
// Documents are replaced atomically (write tmp + rename).
type fileStore struct {
	log logx.Logger

	dir        string
	playersDir string
	totalsPath string

	mu        sync.Mutex
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	players := filepath.Join(dir, "players")
	if err := os.MkdirAll(players, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:        log,
		dir:        dir,
		playersDir: players,
		totalsPath: filepath.Join(dir, "totals.json"),
		auditFile:  af,
	}, nil
}

func (s *fileStore) profilePath(userID int64) string {
	return filepath.Join(s.playersDir, strconv.FormatInt(userID, 10)+".json")
}

func (s *fileStore) LoadProfile(_ context.Context, userID int64) (Profile, error) {
	var p Profile
	err := readJSON(s.profilePath(userID), &p)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %d: %w", userID, err)
	}
	if p.UserID == 0 {
		p.UserID = userID
	}
	return p, nil
}

func (s *fileStore) SaveProfile(_ context.Context, p Profile) error {
	if p.UserID == 0 {
		return errors.New("save profile: zero user id")
	}
	return writeJSONAtomic(s.profilePath(p.UserID), p)
}

func (s *fileStore) ListProfileIDs(_ context.Context) ([]int64, error) {
	ents, err := os.ReadDir(s.playersDir)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			s.log.Debug("skip non-profile file", logx.String("name", name))
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) LoadTotals(_ context.Context) (Totals, error) {
	var t Totals
	err := readJSON(s.totalsPath, &t)
	if errors.Is(err, os.ErrNotExist) {
		return Totals{Activities: map[string]uint64{}}, nil
	}
	if err != nil {
		return Totals{}, fmt.Errorf("load totals: %w", err)
	}
	if t.Activities == nil {
		t.Activities = map[string]uint64{}
	}
	return t, nil
}

func (s *fileStore) SaveTotals(_ context.Context, t Totals) error {
	return writeJSONAtomic(s.totalsPath, t)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
