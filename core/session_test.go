package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(store SessionStore) *SessionManager {
	cfg := testConfig()
	return NewSessionManager(cfg, store, NewCookieCodec(cfg.CookieSecret), zap.NewNop())
}

func TestSessionManagerUninitializedSessionIsNotSaved(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)
	m := newTestManager(store)

	s, err := m.Load(ctx, "")
	require.NoError(t, err)
	assert.True(t, s.IsNew())
	assert.NotEmpty(t, s.ID())

	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, s))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
	assert.Equal(t, 0, store.Len())
}

func TestSessionManagerSavesModifiedSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)
	m := newTestManager(store)

	s, err := m.Load(ctx, "unknown-id")
	require.NoError(t, err)
	assert.True(t, s.IsNew())
	assert.NotEqual(t, "unknown-id", s.ID())
	s.SetUserID(42)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, s))
	resp := http.Response{Header: rec.Header()}
	ck := findSetCookie(&resp, sessionCookieName)
	require.NotNil(t, ck)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.False(t, ck.Secure)

	id, ok := NewCookieCodec(testConfig().CookieSecret).Verify(sessionCookieName, ck.Value)
	require.True(t, ok)
	assert.Equal(t, s.ID(), id)

	loaded, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, loaded.IsNew())
	assert.EqualValues(t, 42, loaded.UserID())
}

func TestSessionManagerUnmodifiedExistingSessionIsOnlyTouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Save(ctx, "sid", SessionData{UserID: 7}))
	m := newTestManager(store)

	s, err := m.Load(ctx, "sid")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(50 * time.Minute) }
	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, s))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))

	// the touch moved expiry to 50m + 1h
	store.now = func() time.Time { return base.Add(100 * time.Minute) }
	data, err := store.Load(ctx, "sid")
	require.NoError(t, err)
	assert.EqualValues(t, 7, data.UserID)
}

func TestSessionRegenerateDestroysPreviousRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)
	require.NoError(t, store.Save(ctx, "old", SessionData{}))
	m := newTestManager(store)

	s, err := m.Load(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, s.Regenerate())
	s.SetUserID(1)
	require.NotEqual(t, "old", s.ID())

	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, s))
	_, err = store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Load(ctx, s.ID())
	assert.NoError(t, err)
	assert.Len(t, rec.Header().Values("Set-Cookie"), 1)
}

func TestSessionRegenerateAfterDestroyIssuesNewSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)
	require.NoError(t, store.Save(ctx, "stale", SessionData{UserID: 3}))
	m := newTestManager(store)

	s, err := m.Load(ctx, "stale")
	require.NoError(t, err)
	s.ClearUser()
	s.Destroy()
	require.NoError(t, s.Regenerate())
	s.SetUserID(4)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, s))
	_, err = store.Load(ctx, "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	data, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 4, data.UserID)

	ck := findSetCookie(&http.Response{Header: rec.Header()}, sessionCookieName)
	require.NotNil(t, ck)
	assert.NotEmpty(t, ck.Value)
	assert.GreaterOrEqual(t, ck.MaxAge, 0)
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)
	require.NoError(t, store.Save(ctx, "sid", SessionData{UserID: 3}))
	m := newTestManager(store)

	s, err := m.Load(ctx, "sid")
	require.NoError(t, err)
	s.ClearUser()
	s.Destroy()

	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, s))
	resp := http.Response{Header: rec.Header()}
	ck := findSetCookie(&resp, sessionCookieName)
	require.NotNil(t, ck)
	assert.Less(t, ck.MaxAge, 0)
	assert.Equal(t, 0, store.Len())
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.NoError(t, store.Save(ctx, "a", SessionData{UserID: 1}))
	require.NoError(t, store.Save(ctx, "b", SessionData{UserID: 2}))
	assert.ErrorIs(t, store.Touch(ctx, "missing"), ErrSessionNotFound)

	store.now = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, store.Touch(ctx, "b"))

	store.now = func() time.Time { return base.Add(61 * time.Second) }
	_, err := store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 0, store.sweep())
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, store.sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemorySessionStoreSweeperStops(t *testing.T) {
	store := NewMemorySessionStore(time.Millisecond)
	require.NoError(t, store.Save(context.Background(), "a", SessionData{}))
	store.StartSweeper(context.Background(), 5*time.Millisecond)
	defer store.Stop()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client, ttl), mr
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Minute)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Load(ctx, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.Save(ctx, "sid", SessionData{UserID: 9, CreatedAt: created}))
	assert.Equal(t, time.Minute, mr.TTL(sessionKey("sid")))

	data, err := store.Load(ctx, "sid")
	require.NoError(t, err)
	assert.EqualValues(t, 9, data.UserID)
	assert.True(t, created.Equal(data.CreatedAt))

	mr.FastForward(40 * time.Second)
	require.NoError(t, store.Touch(ctx, "sid"))
	assert.Equal(t, time.Minute, mr.TTL(sessionKey("sid")))

	mr.FastForward(61 * time.Second)
	_, err = store.Load(ctx, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "sid"), ErrSessionNotFound)

	require.NoError(t, store.Save(ctx, "other", SessionData{}))
	require.NoError(t, store.Destroy(ctx, "other"))
	assert.False(t, mr.Exists(sessionKey("other")))
	assert.NoError(t, store.Ping(ctx))
}

func TestRouterWithRedisSessions(t *testing.T) {
	db := newTestDB(t)
	store, mr := newTestRedisStore(t, time.Hour)
	views, err := NewViews("../views", zap.NewNop())
	require.NoError(t, err)
	router := NewRouter(testConfig(), Deps{
		DB:       db,
		Users:    NewSQLUserRepository(db),
		Posts:    NewSQLPostRepository(db),
		Sessions: store,
		Views:    views,
	})
	app := &testApp{server: httptest.NewServer(router)}
	t.Cleanup(app.server.Close)

	c := app.client(t)
	app.login(t, c, "carol@example.com", "carol", "secret-pw")
	assert.Len(t, mr.Keys(), 1)

	_, body := app.get(t, c, "/")
	assert.Contains(t, body, "Hello, carol")

	_, body = app.get(t, c, "/healthz")
	assert.Contains(t, body, `"sessions":"ok"`)
}
