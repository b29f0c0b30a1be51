// Package auth coordinates login, logout, user switching and token refresh for
// one client. The SessionManager is the entry point for authenticated calls to
// the chat backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-chat-session/client"
	"github.com/jrsteele09/go-chat-session/events"
	"github.com/jrsteele09/go-chat-session/internal/config"
	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/sessions"
	"github.com/jrsteele09/go-chat-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateExpiringSoon
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpiringSoon:
		return "expiring-soon"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// LogoutPayload accompanies events.AuthLogout.
type LogoutPayload struct {
	UserID string `json:"userId"`
}

type SessionManager struct {
	cfg        config.SessionConfig
	store      SessionStore
	bus        *events.Bus
	exec       *client.Executor
	validator  *Validator
	refreshes  singleflight.Group
	nowFunc    func() time.Time
	logger     zerolog.Logger
	httpClient *http.Client

	mu    sync.Mutex
	state State
	stop  context.CancelFunc
	loops sync.WaitGroup
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(m *SessionManager) {
		m.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client used for every backend call. The
// configured request timeout is not applied to it.
func WithHTTPClient(c *http.Client) Option {
	return func(m *SessionManager) {
		m.httpClient = c
	}
}

// NewSessionManager wires the manager to store and to the backend at baseURL.
// The manager is the executor's refresher and auth failure handler, and it
// handles evictions of the bound session by the store's cleanup.
func NewSessionManager(cfg config.SessionConfig, store SessionStore, bus *events.Bus, baseURL string, options ...Option) *SessionManager {
	m := &SessionManager{
		cfg:       cfg,
		store:     store,
		bus:       bus,
		validator: NewValidator(),
		nowFunc:   time.Now,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}

	execOptions := []client.Option{
		client.WithRefresher(m),
		client.WithAuthFailureHandler(m),
		client.WithLogger(m.logger),
	}
	if m.httpClient != nil {
		execOptions = append(execOptions, client.WithHTTPClient(m.httpClient))
	} else {
		execOptions = append(execOptions, client.WithTimeout(cfg.GetRequestTimeout()))
	}
	m.exec = client.New(baseURL, store, execOptions...)

	store.SetEvictionHandler(m.handleEviction)
	return m
}

// Executor exposes the request executor, for unauthenticated calls such as health probes.
func (m *SessionManager) Executor() *client.Executor {
	return m.exec
}

// Init restores the tab's session and starts the refresh check and cleanup
// loops. A bound session that expired while the client was stopped is
// refreshed once before giving up on it.
func (m *SessionManager) Init(ctx context.Context) error {
	m.mu.Lock()
	started := m.stop != nil
	m.mu.Unlock()
	if started {
		return nil
	}

	rec, err := m.store.CurrentSession(ctx)
	switch {
	case err == nil:
		m.syncState(ctx)
		m.logger.Info().Str("user_id", rec.UserID).Msg("session restored")
		m.bus.Emit(events.AuthRestored, rec.User)
	case errors.Is(err, apperrors.ErrNoSession):
		if bound, berr := m.store.BoundSession(ctx); berr == nil {
			if rerr := m.RefreshSession(ctx, bound.UserID, bound.AccessToken); rerr == nil {
				if restored, cerr := m.store.CurrentSession(ctx); cerr == nil {
					m.logger.Info().Str("user_id", restored.UserID).Msg("expired session restored by refresh")
					m.bus.Emit(events.AuthRestored, restored.User)
				}
			} else {
				m.logger.Warn().Err(rerr).Msg("could not restore expired session")
			}
		}
		m.syncState(ctx)
	default:
		return fmt.Errorf("restore session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.stop = cancel
	m.mu.Unlock()

	m.loops.Add(2)
	go m.runEvery(loopCtx, m.cfg.GetRefreshCheckInterval(), "refresh check", func(ctx context.Context) error {
		return m.CheckExpiry(ctx)
	})
	go m.runEvery(loopCtx, m.cfg.GetCleanupInterval(), "session cleanup", func(ctx context.Context) error {
		_, err := m.store.Cleanup(ctx)
		return err
	})
	return nil
}

// Shutdown stops the background loops and waits for them to exit.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.loops.Wait()
}

func (m *SessionManager) runEvery(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	defer m.loops.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				m.logger.Debug().Err(err).Str("loop", name).Msg("background task failed")
			}
		}
	}
}

// Login authenticates with the backend and binds the new session to this tab.
func (m *SessionManager) Login(ctx context.Context, creds Credentials) (*users.User, error) {
	if err := m.validator.ValidateCredentials(creds); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "login: %v", err)
	}
	return m.authenticate(ctx, LoginPath, creds)
}

// Register creates an account and logs it in.
func (m *SessionManager) Register(ctx context.Context, reg Registration) (*users.User, error) {
	if err := m.validator.ValidateRegistration(reg); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "register: %v", err)
	}
	return m.authenticate(ctx, RegisterPath, reg)
}

func (m *SessionManager) authenticate(ctx context.Context, path string, body any) (*users.User, error) {
	resp, err := m.exec.DoUnauthenticated(ctx, client.Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		var rf *apperrors.RequestFailedError
		if errors.As(err, &rf) && rf.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, rf.Message)
		}
		return nil, err
	}

	var out AuthResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, out.Message)
	}
	if out.User == nil || out.User.ID == "" || out.AccessToken == "" || out.RefreshToken == "" {
		return nil, IncompleteResponseErr
	}

	rec, err := m.store.SetSession(ctx, *out.User, out.AccessToken, out.RefreshToken, m.cfg.GetDefaultSessionExpiry())
	if err != nil {
		return nil, err
	}
	m.syncState(ctx)
	m.logger.Info().Str("user_id", rec.UserID).Str("path", path).Msg("logged in")
	m.bus.Emit(events.AuthLogin, rec.User)

	user := rec.User
	return &user, nil
}

// Logout removes the session of userID, or of the bound user when empty, and
// revokes its refresh token on the backend. Revocation is best effort.
func (m *SessionManager) Logout(ctx context.Context, userID string) error {
	rec, err := m.store.Logout(ctx, userID)
	if err != nil {
		return err
	}
	m.revoke(ctx, *rec)
	m.syncState(ctx)
	m.bus.Emit(events.AuthLogout, LogoutPayload{UserID: rec.UserID})
	return nil
}

// LogoutAll removes every stored session.
func (m *SessionManager) LogoutAll(ctx context.Context) error {
	recs, err := m.store.LogoutAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		m.revoke(ctx, rec)
		m.bus.Emit(events.AuthLogout, LogoutPayload{UserID: rec.UserID})
	}
	m.setState(StateUnauthenticated)
	return nil
}

func (m *SessionManager) revoke(ctx context.Context, rec sessions.Record) {
	_, err := m.exec.DoUnauthenticated(ctx, client.Request{
		Method: http.MethodPost,
		Path:   LogoutPath,
		Body:   RefreshRequest{RefreshToken: rec.RefreshToken},
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", rec.UserID).Msg("backend logout failed")
	}
}

// SwitchUser binds this tab to another stored session.
func (m *SessionManager) SwitchUser(ctx context.Context, userID string) (*users.User, error) {
	rec, err := m.store.SwitchToUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.syncState(ctx)
	m.bus.Emit(events.AuthSwitched, rec.User)

	user := rec.User
	return &user, nil
}

// AvailableSessions lists the valid sessions this tab can switch to.
func (m *SessionManager) AvailableSessions(ctx context.Context) ([]sessions.Record, error) {
	return m.store.AvailableSessions(ctx)
}

// CurrentUser returns the profile snapshot of the bound session.
func (m *SessionManager) CurrentUser(ctx context.Context) (*users.User, error) {
	rec, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	user := rec.User
	return &user, nil
}

// FetchProfile loads the bound user's profile from the backend and merges it
// into the stored snapshot.
func (m *SessionManager) FetchProfile(ctx context.Context) (*users.User, error) {
	var user users.User
	if err := m.exec.DoJSON(ctx, client.Request{Method: http.MethodGet, Path: MePath}, &user); err != nil {
		return nil, err
	}
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return m.CurrentUser(ctx)
}

// BoundUserID returns the id of the user bound to this tab, including one
// whose session has expired but can still be refreshed.
func (m *SessionManager) BoundUserID(ctx context.Context) (string, error) {
	rec, err := m.store.BoundSession(ctx)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AuthenticatedRequest performs req as the bound user, or fails with
// ErrStaleSession when req.UserID names someone else. A session that has
// expired locally is refreshed before the request is sent.
func (m *SessionManager) AuthenticatedRequest(ctx context.Context, req client.Request) (*client.Response, error) {
	rec, err := m.store.BoundSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthenticationRequired, err)
	}
	if req.UserID != "" && rec.UserID != req.UserID {
		return nil, fmt.Errorf("%w: request belongs to %s", apperrors.ErrStaleSession, req.UserID)
	}
	if !rec.ValidAt(m.nowFunc()) {
		if err := m.RefreshSession(ctx, rec.UserID, rec.AccessToken); err != nil {
			if errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, apperrors.ErrStaleSession) || ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthenticationRequired, err)
		}
	}
	return m.exec.Do(ctx, req)
}

// AuthenticatedJSON is AuthenticatedRequest followed by decoding the body into out.
func (m *SessionManager) AuthenticatedJSON(ctx context.Context, req client.Request, out any) error {
	resp, err := m.AuthenticatedRequest(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// syncState derives the state from the bound session.
func (m *SessionManager) syncState(ctx context.Context) {
	rec, err := m.store.CurrentSession(ctx)
	if err != nil {
		m.setState(StateUnauthenticated)
		return
	}
	if m.remaining(*rec) < m.cfg.GetRefreshThreshold() {
		m.setState(StateExpiringSoon)
		return
	}
	m.setState(StateAuthenticated)
}

func (m *SessionManager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("session state changed")
	}
}
