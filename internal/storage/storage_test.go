package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "timerbot/pkg/logx"
)

func openForTest(t *testing.T, driver string) Store {
	t.Helper()
	dir := t.TempDir()
	path := dir
	if driver == "sqlite" {
		path = filepath.Join(dir, "timerbot.db")
	}
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleProfile(id int64) Profile {
	chat := int64(-100123)
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return Profile{
		UserID:        id,
		Username:      "mario",
		RegisteredAt:  at,
		LastActive:    at.Add(time.Hour),
		Notifications: map[string]bool{"slot": false},
		Usage:         map[string]Usage{"slot": {Today: 3, Total: 10}},
		LastTimerAt:   map[string]time.Time{"slot": at.Add(30 * time.Minute)},
		DailyDigest:   true,
		PreferredChat: &chat,
	}
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite", "memory"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openForTest(t, driver)

			_, err := st.LoadProfile(ctx, 42)
			require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			want := sampleProfile(42)
			require.NoError(t, st.SaveProfile(ctx, want))
			require.NoError(t, st.SaveProfile(ctx, sampleProfile(7)))

			got, err := st.LoadProfile(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, want.Username, got.Username)
			assert.Equal(t, want.Usage, got.Usage)
			assert.False(t, got.Notifications["slot"])
			assert.True(t, got.LastTimerAt["slot"].Equal(want.LastTimerAt["slot"]))
			require.NotNil(t, got.PreferredChat)
			assert.Equal(t, int64(-100123), *got.PreferredChat)

			ids, err := st.ListProfileIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{7, 42}, ids)

			tot, err := st.LoadTotals(ctx)
			require.NoError(t, err)
			assert.Empty(t, tot.Activities)

			tot.Activities["slot"] = 5
			tot.UniqueUsers = 2
			tot.LastResetDay = "2026-03-04"
			require.NoError(t, st.SaveTotals(ctx, tot))
			tot2, err := st.LoadTotals(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(5), tot2.Activities["slot"])
			assert.Equal(t, "2026-03-04", tot2.LastResetDay)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 1, Action: "admin_reset", Target: "42/slot"}))
		})
	}
}

func TestFileStoreSkipsForeignFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "players", "notes.json"), []byte("{}"), 0o600))
	require.NoError(t, st.SaveProfile(context.Background(), Profile{UserID: 5}))

	ids, err := st.ListProfileIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)

	b, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
}

func TestProfileCloneIsDeep(t *testing.T) {
	t.Parallel()
	p := sampleProfile(1)
	c := p.Clone()
	c.Usage["slot"] = Usage{}
	c.Notifications["slot"] = true
	*c.PreferredChat = 1
	assert.Equal(t, uint64(3), p.Usage["slot"].Today)
	assert.False(t, p.Notifications["slot"])
	assert.Equal(t, int64(-100123), *p.PreferredChat)
}
