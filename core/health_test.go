package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCollectHealth(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store, mr := newTestRedisStore(t, time.Minute)

	observed, logs := observer.New(zap.WarnLevel)
	logger := zap.New(observed)

	st := CollectHealth(ctx, db, store, time.Now().Add(-time.Minute), logger)
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, "ok", st.Database)
	assert.Equal(t, "ok", st.Sessions)
	assert.GreaterOrEqual(t, st.UptimeSeconds, int64(59))

	mr.Close()
	st = CollectHealth(ctx, db, store, time.Time{}, logger)
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, "error", st.Sessions, "driver detail stays in the log")
	assert.Zero(t, st.UptimeSeconds)
	assert.Equal(t, 1, logs.FilterMessage("health: session store ping failed").Len())

	st = CollectHealth(ctx, nil, NewMemorySessionStore(time.Minute), time.Time{}, logger)
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, "unavailable", st.Database)

	require.NoError(t, db.Close())
	st = CollectHealth(ctx, db, NewMemorySessionStore(time.Minute), time.Time{}, logger)
	assert.Equal(t, "error", st.Database)
	assert.Equal(t, 1, logs.FilterMessage("health: database ping failed").Len())
}

func TestParseKiBLine(t *testing.T) {
	assert.EqualValues(t, 16318480, parseKiBLine("MemTotal:       16318480 kB"))
	assert.Zero(t, parseKiBLine("MemTotal:"))
	assert.Zero(t, parseKiBLine("MemTotal: lots kB"))
}
