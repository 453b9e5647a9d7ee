package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	logx "timerbot/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps JSON documents under <prefix>user:<id> and <prefix>totals.
// Audit entries are pushed onto the <prefix>audit list.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "timerbot:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return newRedisStore(client, prefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) userKey(id int64) string {
	return s.prefix + "user:" + strconv.FormatInt(id, 10)
}

func (s *redisStore) LoadProfile(ctx context.Context, userID int64) (Profile, error) {
	b, err := s.client.Get(ctx, s.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %d: %w", userID, err)
	}
	p.UserID = userID
	return p, nil
}

func (s *redisStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.UserID == 0 {
		return errors.New("save profile: zero user id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.userKey(p.UserID), b, 0).Err()
}

func (s *redisStore) ListProfileIDs(ctx context.Context) ([]int64, error) {
	head := s.prefix + "user:"
	var out []int64
	iter := s.client.Scan(ctx, 0, head+"*", 0).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), head), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *redisStore) LoadTotals(ctx context.Context) (Totals, error) {
	b, err := s.client.Get(ctx, s.prefix+"totals").Bytes()
	if errors.Is(err, redis.Nil) {
		return Totals{Activities: map[string]uint64{}}, nil
	}
	if err != nil {
		return Totals{}, err
	}
	var t Totals
	if err := json.Unmarshal(b, &t); err != nil {
		return Totals{}, fmt.Errorf("decode totals: %w", err)
	}
	if t.Activities == nil {
		t.Activities = map[string]uint64{}
	}
	return t, nil
}

func (s *redisStore) SaveTotals(ctx context.Context, t Totals) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+"totals", b, 0).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.prefix+"audit", b).Err()
}

func (s *redisStore) Close() error { return s.client.Close() }
