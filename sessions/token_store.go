package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/storage"
	"github.com/jrsteele09/go-chat-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultMaxSessions = 5

// EvictionHandler is called when Cleanup removes the session bound to this tab.
type EvictionHandler func(ctx context.Context, rec Record)

// TokenStore persists session records in a durable store shared by every tab
// and keeps the tab's current user pointer in a tab-scoped store.
//
// Writes from one TokenStore are serialised. Several TokenStores sharing the
// same durable store are not coordinated: the last writer wins.
type TokenStore struct {
	durable     storage.Store
	tab         storage.Store
	maxSessions int
	nowFunc     func() time.Time
	logger      zerolog.Logger
	onEvict     EvictionHandler
	lock        sync.Mutex
}

type Option func(*TokenStore)

func WithNowFunc(now func() time.Time) Option {
	return func(s *TokenStore) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *TokenStore) {
		s.logger = logger
	}
}

// WithMaxSessions bounds the number of stored sessions.
func WithMaxSessions(n int) Option {
	return func(s *TokenStore) {
		s.maxSessions = n
	}
}

func WithEvictionHandler(h EvictionHandler) Option {
	return func(s *TokenStore) {
		s.onEvict = h
	}
}

func NewTokenStore(durable, tab storage.Store, options ...Option) *TokenStore {
	s := &TokenStore{
		durable: durable,
		tab:     tab,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.maxSessions <= 0 {
		s.maxSessions = defaultMaxSessions
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

// SetEvictionHandler replaces the handler called when the bound session is evicted.
func (s *TokenStore) SetEvictionHandler(h EvictionHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onEvict = h
}

// SetSession stores a fresh session for user, replacing any previous record
// for the same user, and binds this tab to it.
func (s *TokenStore) SetSession(ctx context.Context, user users.User, accessToken, refreshToken string, expiry time.Duration) (*Record, error) {
	if user.ID == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "set session: missing user id")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	rec := Record{
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Public(),
		Expiry:       now.Add(expiry),
		LastActive:   now,
		CreatedAt:    now,
	}
	all[user.ID] = rec
	s.enforceLimit(all, user.ID, now)

	if err := s.saveAll(ctx, all); err != nil {
		return nil, err
	}
	if err := s.bind(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", rec.UserID).Time("expiry", rec.Expiry).Int("sessions", len(all)).Msg("session stored")
	return &rec, nil
}

// CurrentSession returns the valid session bound to this tab. A tab without a
// binding adopts the most recently active valid session, which lets a new tab
// continue an existing login. ErrNoSession is returned when there is none or
// when the bound session has expired.
func (s *TokenStore) CurrentSession(ctx context.Context) (*Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, err := s.boundLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !rec.ValidAt(s.nowFunc()) {
		return nil, apperrors.ErrNoSession
	}
	return rec, nil
}

// BoundSession is CurrentSession without the expiry check: a bound but expired
// record is still returned so that it can be refreshed.
func (s *TokenStore) BoundSession(ctx context.Context) (*Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.boundLocked(ctx)
}

// AccessToken returns the bound session's credentials.
func (s *TokenStore) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	rec, err := s.BoundSession(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Token(), nil
}

// UpdateAccessToken replaces the access token of the bound session.
func (s *TokenStore) UpdateAccessToken(ctx context.Context, accessToken string) error {
	return s.mutateBound(ctx, false, func(rec *Record, now time.Time) {
		rec.AccessToken = accessToken
		rec.LastActive = now
	})
}

// ExtendSession moves the bound session's expiry to now+additional.
// An expired session cannot be extended.
func (s *TokenStore) ExtendSession(ctx context.Context, additional time.Duration) error {
	return s.mutateBound(ctx, true, func(rec *Record, now time.Time) {
		rec.Expiry = now.Add(additional)
		rec.LastActive = now
	})
}

// UpdateUser merges a fresh profile into the bound session's user snapshot.
func (s *TokenStore) UpdateUser(ctx context.Context, user users.User) error {
	return s.mutateBound(ctx, false, func(rec *Record, _ time.Time) {
		rec.User = users.Merge(rec.User, user)
	})
}

// ApplyRefresh stores the result of a refresh for userID. It fails with
// ErrStaleSession when the record was removed or replaced while the refresh
// was in flight, so a late response cannot resurrect a logged out session.
func (s *TokenStore) ApplyRefresh(ctx context.Context, userID, usedRefreshToken string, upd RefreshUpdate) (*Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := all[userID]
	if !ok || rec.RefreshToken != usedRefreshToken {
		return nil, apperrors.ErrStaleSession
	}

	now := s.nowFunc()
	rec.AccessToken = upd.AccessToken
	if upd.RefreshToken != "" {
		rec.RefreshToken = upd.RefreshToken
	}
	if upd.User != nil {
		rec.User = users.Merge(rec.User, *upd.User)
	}
	rec.Expiry = now.Add(upd.Expiry)
	rec.LastActive = now
	all[userID] = rec

	if err := s.saveAll(ctx, all); err != nil {
		return nil, err
	}

	bound, err := storage.GetString(ctx, s.tab, storage.KeyCurrentUserID)
	if err != nil {
		return nil, err
	}
	if bound == userID {
		if err := s.bind(ctx, rec); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// IsSessionValid reports whether this tab has a session with expiry > now.
func (s *TokenStore) IsSessionValid(ctx context.Context) bool {
	_, err := s.CurrentSession(ctx)
	return err == nil
}

// TimeUntilExpiry returns the remaining lifetime of the current session, zero
// when there is none.
func (s *TokenStore) TimeUntilExpiry(ctx context.Context) time.Duration {
	rec, err := s.CurrentSession(ctx)
	if err != nil {
		return 0
	}
	return rec.Expiry.Sub(s.nowFunc())
}

// Logout removes the session of userID, or of the bound user when userID is
// empty, and returns the removed record. The tab binding is cleared when it
// pointed at that user.
func (s *TokenStore) Logout(ctx context.Context, userID string) (*Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	bound, err := storage.GetString(ctx, s.tab, storage.KeyCurrentUserID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = bound
	}
	if userID == "" {
		return nil, apperrors.ErrNoSession
	}

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := all[userID]
	delete(all, userID)
	if ok {
		if err := s.saveAll(ctx, all); err != nil {
			return nil, err
		}
	}
	if bound == userID {
		if err := s.unbind(ctx); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}

	s.logger.Info().Str("user_id", userID).Msg("session removed")
	return &rec, nil
}

// LogoutAll removes every stored session and the tab binding.
func (s *TokenStore) LogoutAll(ctx context.Context) ([]Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.durable.Delete(ctx, storage.KeySessions); err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	if err := s.unbind(ctx); err != nil {
		return nil, err
	}

	removed := make([]Record, 0, len(all))
	for _, rec := range all {
		removed = append(removed, rec)
	}
	s.logger.Info().Int("sessions", len(removed)).Msg("all sessions removed")
	return removed, nil
}

// AvailableSessions lists valid sessions, most recently active first.
func (s *TokenStore) AvailableSessions(ctx context.Context) ([]Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return validByActivity(all, s.nowFunc()), nil
}

// SwitchToUser binds this tab to userID's session. Other sessions are not touched.
func (s *TokenStore) SwitchToUser(ctx context.Context, userID string) (*Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc()
	rec, ok := all[userID]
	if !ok || !rec.ValidAt(now) {
		return nil, apperrors.Wrapf(apperrors.ErrSessionNotFound, "switch to user %s", userID)
	}

	rec.LastActive = now
	all[userID] = rec
	if err := s.saveAll(ctx, all); err != nil {
		return nil, err
	}
	if err := s.bind(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Msg("switched session")
	return &rec, nil
}

// Cleanup deletes every expired session. When the session bound to this tab is
// among them the binding is cleared and the eviction handler runs.
func (s *TokenStore) Cleanup(ctx context.Context) ([]Record, error) {
	s.lock.Lock()

	all, err := s.loadAll(ctx)
	if err != nil {
		s.lock.Unlock()
		return nil, err
	}
	bound, err := storage.GetString(ctx, s.tab, storage.KeyCurrentUserID)
	if err != nil {
		s.lock.Unlock()
		return nil, err
	}

	now := s.nowFunc()
	var evicted []Record
	var boundEvicted *Record
	for id, rec := range all {
		if rec.ValidAt(now) {
			continue
		}
		delete(all, id)
		evicted = append(evicted, rec)
		if id == bound {
			boundEvicted = &rec
		}
	}

	if len(evicted) > 0 {
		if err := s.saveAll(ctx, all); err != nil {
			s.lock.Unlock()
			return nil, err
		}
	}
	if boundEvicted != nil {
		if err := s.unbind(ctx); err != nil {
			s.lock.Unlock()
			return nil, err
		}
	}
	onEvict := s.onEvict
	s.lock.Unlock()

	if len(evicted) > 0 {
		s.logger.Info().Int("evicted", len(evicted)).Msg("expired sessions removed")
	}
	if boundEvicted != nil && onEvict != nil {
		onEvict(ctx, *boundEvicted)
	}
	return evicted, nil
}

func (s *TokenStore) mutateBound(ctx context.Context, requireValid bool, mutate func(rec *Record, now time.Time)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	bound, err := storage.GetString(ctx, s.tab, storage.KeyCurrentUserID)
	if err != nil {
		return err
	}
	if bound == "" {
		return apperrors.ErrNoSession
	}
	all, err := s.loadAll(ctx)
	if err != nil {
		return err
	}
	rec, ok := all[bound]
	now := s.nowFunc()
	if !ok || (requireValid && !rec.ValidAt(now)) {
		return apperrors.ErrNoSession
	}

	mutate(&rec, now)
	all[bound] = rec
	if err := s.saveAll(ctx, all); err != nil {
		return err
	}
	return s.bind(ctx, rec)
}

// boundLocked resolves the tab binding, adopting a valid session when the tab
// has none or its binding points at a record deleted elsewhere.
func (s *TokenStore) boundLocked(ctx context.Context) (*Record, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	bound, err := storage.GetString(ctx, s.tab, storage.KeyCurrentUserID)
	if err != nil {
		return nil, err
	}
	if bound != "" {
		if rec, ok := all[bound]; ok {
			return &rec, nil
		}
		if err := s.unbind(ctx); err != nil {
			return nil, err
		}
	}

	candidates := validByActivity(all, s.nowFunc())
	if len(candidates) == 0 {
		return nil, apperrors.ErrNoSession
	}
	rec := candidates[0]
	if err := s.bind(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("user_id", rec.UserID).Msg("tab adopted existing session")
	return &rec, nil
}

// enforceLimit drops expired records and then the least recently active ones
// until the bound is respected. keep is never dropped.
func (s *TokenStore) enforceLimit(all map[string]Record, keep string, now time.Time) {
	for id, rec := range all {
		if id != keep && !rec.ValidAt(now) {
			delete(all, id)
		}
	}
	for len(all) > s.maxSessions {
		oldestID := ""
		for id, rec := range all {
			if id == keep {
				continue
			}
			if oldestID == "" || rec.LastActive.Before(all[oldestID].LastActive) {
				oldestID = id
			}
		}
		if oldestID == "" {
			return
		}
		delete(all, oldestID)
		s.logger.Info().Str("user_id", oldestID).Int("max_sessions", s.maxSessions).Msg("session evicted to respect session limit")
	}
}

func (s *TokenStore) loadAll(ctx context.Context) (map[string]Record, error) {
	all := make(map[string]Record)
	if _, err := storage.GetJSON(ctx, s.durable, storage.KeySessions, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *TokenStore) saveAll(ctx context.Context, all map[string]Record) error {
	return storage.SetJSON(ctx, s.durable, storage.KeySessions, all)
}

func (s *TokenStore) bind(ctx context.Context, rec Record) error {
	if err := storage.SetString(ctx, s.tab, storage.KeyCurrentUserID, rec.UserID); err != nil {
		return err
	}
	if err := storage.SetString(ctx, s.tab, storage.KeyAccessToken, rec.AccessToken); err != nil {
		return err
	}
	return storage.SetJSON(ctx, s.tab, storage.KeyCurrentUser, rec.User)
}

func (s *TokenStore) unbind(ctx context.Context) error {
	for _, key := range []string{storage.KeyCurrentUserID, storage.KeyAccessToken, storage.KeyCurrentUser} {
		if err := s.tab.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear tab binding: %w", err)
		}
	}
	return nil
}

func validByActivity(all map[string]Record, now time.Time) []Record {
	valid := make([]Record, 0, len(all))
	for _, rec := range all {
		if rec.ValidAt(now) {
			valid = append(valid, rec)
		}
	}
	sort.Slice(valid, func(i, j int) bool {
		if valid[i].LastActive.Equal(valid[j].LastActive) {
			return valid[i].UserID < valid[j].UserID
		}
		return valid[i].LastActive.After(valid[j].LastActive)
	})
	return valid
}
