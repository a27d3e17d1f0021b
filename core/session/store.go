package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/authproxy/core/cookie"
	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/logger"
)

// Store reads and writes the session cookie for the current request.
type Store struct {
	cookies    *cookie.Manager
	name       string
	maxAge     time.Duration
	cookieOpts []cookie.Option
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Store backed by the given cookie manager.
func New(cookies *cookie.Manager, opts ...Option) *Store {
	s := &Store{
		cookies: cookies,
		name:    DefaultCookieName,
		logger:  logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CookieName returns the name of the session cookie.
func (s *Store) CookieName() string { return s.name }

// envelope is the sealed cookie payload.
type envelope struct {
	Session
	ExpiresAt int64 `json:"exp,omitempty"`
}

// requestState caches the decoded session for the rest of a request so
// later reads observe earlier writes.
type requestState struct {
	session Session
}

type stateKey struct{ name string }

// Get returns the current session. It never fails: a missing, tampered,
// expired or undecodable cookie yields the logged-out default.
func (s *Store) Get(ctx handler.Context) Session {
	return s.state(ctx).session
}

// Update merges p into the current session, seals it into the cookie on the
// response and returns the merged value.
func (s *Store) Update(ctx handler.Context, p Patch) (Session, error) {
	st := s.state(ctx)
	next := st.session.Apply(p)

	env := envelope{Session: next}
	opts := append([]cookie.Option{}, s.cookieOpts...)
	if s.maxAge > 0 {
		env.ExpiresAt = s.now().Add(s.maxAge).Unix()
		opts = append(opts, cookie.WithMaxAge(int(s.maxAge.Seconds())))
	}

	data, err := json.Marshal(env)
	if err != nil {
		return st.session, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if err := s.cookies.SetEncrypted(ctx.ResponseWriter(), s.name, string(data), opts...); err != nil {
		return st.session, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	st.session = next
	return next, nil
}

// Clear logs the session out and expires the cookie.
func (s *Store) Clear(ctx handler.Context) Session {
	st := s.state(ctx)
	s.cookies.Delete(ctx.ResponseWriter(), s.name, s.cookieOpts...)
	st.session = Session{}
	return st.session
}

func (s *Store) state(ctx handler.Context) *requestState {
	key := stateKey{name: s.name}
	if st, ok := ctx.Value(key).(*requestState); ok {
		return st
	}

	st := &requestState{session: s.decode(ctx)}
	ctx.SetValue(key, st)
	return st
}

func (s *Store) decode(ctx handler.Context) Session {
	raw, err := s.cookies.GetEncrypted(ctx.Request(), s.name)
	if err != nil {
		if !errors.Is(err, cookie.ErrCookieNotFound) {
			s.logger.DebugContext(ctx, "session cookie rejected", logger.Error(err))
		}
		return Session{}
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.logger.DebugContext(ctx, "session cookie undecodable", logger.Error(err))
		return Session{}
	}
	if env.ExpiresAt > 0 && s.now().Unix() >= env.ExpiresAt {
		s.logger.DebugContext(ctx, "session cookie rejected", logger.Error(ErrExpired))
		return Session{}
	}

	return env.Session.normalize()
}
