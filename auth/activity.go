package auth

import (
	"context"
	"errors"

	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
)

// ActivityKind names a user interaction that keeps the session alive.
type ActivityKind string

const (
	ActivityClick     ActivityKind = "click"
	ActivityKeypress  ActivityKind = "keypress"
	ActivityScroll    ActivityKind = "scroll"
	ActivityMouseMove ActivityKind = "mousemove"
	ActivityTouch     ActivityKind = "touchstart"
)

func (k ActivityKind) valid() bool {
	switch k {
	case ActivityClick, ActivityKeypress, ActivityScroll, ActivityMouseMove, ActivityTouch:
		return true
	}
	return false
}

// RecordActivity extends the bound session when the user interacts with the
// client. At most one write happens per quiet window; activity inside the
// window is dropped.
func (m *SessionManager) RecordActivity(ctx context.Context, kind ActivityKind) error {
	if !kind.valid() {
		return UnknownActivityErr
	}
	rec, err := m.store.CurrentSession(ctx)
	if errors.Is(err, apperrors.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.nowFunc().Sub(rec.LastActive) < m.cfg.GetActivityQuietWindow() {
		return nil
	}
	if err := m.store.ExtendSession(ctx, m.cfg.GetActivityExtension()); err != nil {
		return err
	}
	m.logger.Debug().Str("user_id", rec.UserID).Str("activity", string(kind)).Msg("session extended on activity")
	m.syncState(ctx)
	return nil
}
