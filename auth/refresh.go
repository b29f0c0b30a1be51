package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/go-chat-session/client"
	"github.com/jrsteele09/go-chat-session/events"
	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/sessions"
	"github.com/jrsteele09/go-chat-session/token"
)

const (
	failureRefreshRejected = "session expired, please log in again"
	failureSessionEvicted  = "session expired"
)

var (
	_ client.Refresher          = (*SessionManager)(nil)
	_ client.AuthFailureHandler = (*SessionManager)(nil)
)

// Refresh exchanges the bound session's refresh token for a new access token.
func (m *SessionManager) Refresh(ctx context.Context) error {
	rec, err := m.store.BoundSession(ctx)
	if err != nil {
		return err
	}
	return m.RefreshSession(ctx, rec.UserID, rec.AccessToken)
}

// RefreshSession refreshes the bound session unless its access token is no
// longer staleAccessToken, in which case another caller already refreshed it.
// A non-empty userID must be the bound user, otherwise ErrStaleSession is
// returned. Concurrent calls for the same user share a single backend call.
func (m *SessionManager) RefreshSession(ctx context.Context, userID, staleAccessToken string) error {
	rec, err := m.store.BoundSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}
	if userID != "" && rec.UserID != userID {
		return fmt.Errorf("%w: %s is no longer bound", apperrors.ErrStaleSession, userID)
	}
	if staleAccessToken != "" && rec.AccessToken != staleAccessToken {
		return nil
	}

	userID = rec.UserID
	flightCtx := context.WithoutCancel(ctx)
	ch := m.refreshes.DoChan(userID, func() (any, error) {
		// A previous flight may have completed since the check above.
		cur, err := m.store.BoundSession(flightCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
		}
		if cur.UserID != userID {
			return nil, apperrors.ErrStaleSession
		}
		if staleAccessToken != "" && cur.AccessToken != staleAccessToken {
			return nil, nil
		}
		return nil, m.refresh(flightCtx, *cur)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) refresh(ctx context.Context, rec sessions.Record) error {
	m.setState(StateRefreshing)
	m.logger.Debug().Str("user_id", rec.UserID).Msg("refreshing session")

	out, err := m.requestRefresh(ctx, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrNetwork) {
			m.syncState(ctx)
			return err
		}
		m.logger.Warn().Err(err).Str("user_id", rec.UserID).Msg("refresh rejected")
		m.teardown(ctx, rec.UserID, failureRefreshRejected)
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}

	_, err = m.store.ApplyRefresh(ctx, rec.UserID, rec.RefreshToken, sessions.RefreshUpdate{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		User:         out.User,
		Expiry:       m.cfg.GetDefaultSessionExpiry(),
	})
	m.syncState(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrStaleSession) {
			m.logger.Info().Str("user_id", rec.UserID).Msg("refresh result discarded, session changed meanwhile")
		}
		return err
	}
	m.logger.Info().Str("user_id", rec.UserID).Msg("session refreshed")
	return nil
}

func (m *SessionManager) requestRefresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	resp, err := m.exec.DoUnauthenticated(ctx, client.Request{
		Method: http.MethodPost,
		Path:   RefreshPath,
		Body:   RefreshRequest{RefreshToken: refreshToken},
	})
	if err != nil {
		return nil, err
	}
	var out RefreshResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if !out.Success || out.AccessToken == "" {
		return nil, fmt.Errorf("refresh rejected: %s", out.Message)
	}
	return &out, nil
}

// CheckExpiry compares the remaining lifetime of the bound session with the
// refresh threshold and refreshes when it is below. The remaining lifetime is
// the earlier of the session expiry and the access token's own exp claim.
func (m *SessionManager) CheckExpiry(ctx context.Context) error {
	rec, err := m.store.BoundSession(ctx)
	if err != nil {
		m.setState(StateUnauthenticated)
		return nil
	}
	if m.remaining(*rec) >= m.cfg.GetRefreshThreshold() {
		m.setState(StateAuthenticated)
		return nil
	}
	m.setState(StateExpiringSoon)
	return m.RefreshSession(ctx, rec.UserID, rec.AccessToken)
}

func (m *SessionManager) remaining(rec sessions.Record) time.Duration {
	now := m.nowFunc()
	remaining := rec.Expiry.Sub(now)
	if exp, ok := token.AccessTokenExpiry(rec.AccessToken); ok && exp.Sub(now) < remaining {
		remaining = exp.Sub(now)
	}
	return remaining
}

// HandleAuthFailure ends userID's session after the backend refused to
// authenticate a request made with its credentials. An empty userID means the
// bound session.
func (m *SessionManager) HandleAuthFailure(ctx context.Context, userID, reason string) {
	if userID == "" {
		rec, err := m.store.BoundSession(ctx)
		if err != nil {
			m.signalFailure(ctx, "", reason)
			return
		}
		userID = rec.UserID
	}
	m.teardown(ctx, userID, reason)
}

func (m *SessionManager) handleEviction(ctx context.Context, rec sessions.Record) {
	m.signalFailure(ctx, rec.UserID, failureSessionEvicted)
}

// teardown removes userID's session and raises auth:failure. Nothing is
// signalled when the session is already gone.
func (m *SessionManager) teardown(ctx context.Context, userID, reason string) {
	if _, err := m.store.Logout(ctx, userID); err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			m.syncState(ctx)
			return
		}
		m.logger.Error().Err(err).Str("user_id", userID).Msg("failed to remove session")
	}
	m.signalFailure(ctx, userID, reason)
}

func (m *SessionManager) signalFailure(ctx context.Context, userID, reason string) {
	m.syncState(ctx)
	m.logger.Warn().Str("user_id", userID).Str("reason", reason).Msg("authentication failure")
	m.bus.Emit(events.AuthFailure, events.AuthFailurePayload{Message: reason, UserID: userID})
}
