package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const sessionCookieName = "nodebird.sid"

// ErrSessionNotFound is returned by stores for unknown or expired ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionData is the server-side state of one session.
type SessionData struct {
	UserID    int64 // serialized user reference, 0 when anonymous
	CreatedAt time.Time
}

// SessionStore persists session state keyed by session id. Implementations
// apply the store TTL on Save and Touch.
type SessionStore interface {
	Load(ctx context.Context, id string) (SessionData, error)
	Save(ctx context.Context, id string, data SessionData) error
	Touch(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
}

// Session is the per-request view of a stored session. Nothing is written
// back unless a mutating method was called.
type Session struct {
	id        string
	prevID    string
	data      SessionData
	isNew     bool
	modified  bool
	destroyed bool
}

func (s *Session) ID() string    { return s.id }
func (s *Session) IsNew() bool   { return s.isNew }
func (s *Session) UserID() int64 { return s.data.UserID }

// SetUserID stores the serialized user reference.
func (s *Session) SetUserID(id int64) {
	s.data.UserID = id
	s.modified = true
}

// ClearUser drops the user reference.
func (s *Session) ClearUser() {
	if s.data.UserID == 0 {
		return
	}
	s.data.UserID = 0
	s.modified = true
}

// Regenerate moves the session to a fresh id; the old record is destroyed
// on commit. Used on login to avoid session fixation. A pending Destroy
// applies to the old id only.
func (s *Session) Regenerate() error {
	id, err := newSessionID()
	if err != nil {
		return err
	}
	if !s.isNew && s.prevID == "" {
		s.prevID = s.id
	}
	s.id = id
	s.isNew = true
	s.modified = true
	s.destroyed = false
	return nil
}

// Destroy marks the session for removal from the store and the client.
func (s *Session) Destroy() {
	s.destroyed = true
}

// SessionManager loads sessions for requests and commits them back.
type SessionManager struct {
	store   SessionStore
	codec   *CookieCodec
	options sessions.Options
	logger  *zap.Logger
}

func NewSessionManager(cfg Config, store SessionStore, codec *CookieCodec, logger *zap.Logger) *SessionManager {
	m := &SessionManager{store: store, codec: codec, logger: logger}
	applySessionOptions(cfg, &m.options)
	return m
}

// Load returns the session referenced by id, or a new uninitialized session
// when id is empty, unknown or expired.
func (m *SessionManager) Load(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		data, err := m.store.Load(ctx, id)
		if err == nil {
			return &Session{id: id, data: data}, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	newID, err := newSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{id: newID, isNew: true, data: SessionData{CreatedAt: time.Now().UTC()}}, nil
}

// Commit persists s according to its state and sets or clears the cookie on
// w. It must run before response headers are flushed.
//
//   - destroyed: store record removed, cookie expired
//   - modified: saved; cookie set when the id is new to the client
//   - unmodified existing: TTL refreshed only
//   - unmodified new: nothing stored, no cookie
func (m *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.prevID != "" {
		if err := m.store.Destroy(ctx, s.prevID); err != nil {
			return err
		}
		s.prevID = ""
	}

	if s.destroyed {
		if !s.isNew {
			if err := m.store.Destroy(ctx, s.id); err != nil {
				return err
			}
		}
		opts := m.options
		opts.MaxAge = -1
		http.SetCookie(w, sessions.NewCookie(sessionCookieName, "", &opts))
		return nil
	}

	switch {
	case s.modified:
		if err := m.store.Save(ctx, s.id, s.data); err != nil {
			return err
		}
		if s.isNew {
			value, err := m.codec.Sign(sessionCookieName, s.id)
			if err != nil {
				return err
			}
			opts := m.options
			http.SetCookie(w, sessions.NewCookie(sessionCookieName, value, &opts))
		}
	case !s.isNew:
		if err := m.store.Touch(ctx, s.id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}
	return nil
}

// applySessionOptions sets the session cookie attributes. MaxAge stays 0 so
// the cookie lives for the browser session; the store enforces the TTL.
func applySessionOptions(cfg Config, opts *sessions.Options) {
	opts.Path = "/"
	opts.MaxAge = 0
	opts.HttpOnly = true
	opts.Secure = cfg.CookieSecure
	opts.SameSite = http.SameSiteLaxMode
}
