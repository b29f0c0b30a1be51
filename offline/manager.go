// Package offline keeps outgoing messages that could not reach the backend in a
// persisted queue and replays them when connectivity returns. It also stores
// per-conversation drafts.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-chat-session/client"
	"github.com/jrsteele09/go-chat-session/events"
	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Sender performs authenticated backend calls. *auth.SessionManager implements it.
type Sender interface {
	AuthenticatedRequest(ctx context.Context, req client.Request) (*client.Response, error)
	BoundUserID(ctx context.Context) (string, error)
}

type Manager struct {
	sender  Sender
	durable storage.Store
	bus     *events.Bus
	limiter *rate.Limiter
	nowFunc func() time.Time
	newID   func() (string, error)
	logger  zerolog.Logger

	mu      sync.Mutex
	online  bool
	syncing bool
	queue   []QueuedMessage
	drafts  map[string]string

	background sync.WaitGroup
}

type Option func(*Manager)

// WithSyncRate paces replayed sends to perSecond messages. Zero disables pacing.
func WithSyncRate(perSecond float64) Option {
	return func(m *Manager) {
		if perSecond > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithIDGenerator(gen func() (string, error)) Option {
	return func(m *Manager) {
		m.newID = gen
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithOnline sets the initial connectivity state. The default is online.
func WithOnline(online bool) Option {
	return func(m *Manager) {
		m.online = online
	}
}

func New(sender Sender, durable storage.Store, bus *events.Bus, options ...Option) *Manager {
	m := &Manager{
		sender:  sender,
		durable: durable,
		bus:     bus,
		nowFunc: time.Now,
		newID:   NewMessageID,
		logger:  log.Logger,
		online:  true,
		drafts:  make(map[string]string),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Load restores the queue and drafts from the durable store. Messages that
// were being sent when the client stopped are queued again.
func (m *Manager) Load(ctx context.Context) error {
	var queue []QueuedMessage
	if _, err := storage.GetJSON(ctx, m.durable, storage.KeyOfflineQueue, &queue); err != nil {
		return err
	}
	drafts := make(map[string]string)
	if _, err := storage.GetJSON(ctx, m.durable, storage.KeyDrafts, &drafts); err != nil {
		return err
	}
	for i := range queue {
		if queue[i].Status == StatusSending {
			queue[i].Status = StatusQueued
		}
	}

	m.mu.Lock()
	m.queue = queue
	m.drafts = drafts
	m.mu.Unlock()

	m.logger.Debug().Int("queued", len(queue)).Int("drafts", len(drafts)).Msg("offline state loaded")
	return nil
}

// SendMessage sends msg right away when online. When offline, or when the
// backend cannot be reached, the message is queued instead and the result
// carries the queued record. Any other failure is returned.
func (m *Manager) SendMessage(ctx context.Context, msg OutgoingMessage) (*SendResult, error) {
	if msg.ConversationID == "" || msg.Content == "" {
		return nil, ErrEmptyMessage
	}
	if msg.MessageType == "" {
		msg.MessageType = MessageTypeText
	}

	owner, err := m.owner(ctx)
	if err != nil {
		return nil, err
	}
	id, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	if !m.IsOnline() {
		queued, err := m.enqueue(ctx, owner, id, msg)
		if err != nil {
			return nil, err
		}
		return &SendResult{Queued: queued}, nil
	}

	sent, err := m.send(ctx, owner, id, msg)
	if err != nil {
		if errors.Is(err, apperrors.ErrNetwork) {
			m.logger.Info().Err(err).Str("conversation_id", msg.ConversationID).Msg("backend unreachable, queueing message")
			queued, qerr := m.enqueue(ctx, owner, id, msg)
			if qerr != nil {
				return nil, qerr
			}
			return &SendResult{Queued: queued}, nil
		}
		return nil, err
	}
	return &SendResult{Message: sent}, nil
}

// QueueMessage stores msg for a later sync without attempting to send it.
func (m *Manager) QueueMessage(ctx context.Context, msg OutgoingMessage) (*QueuedMessage, error) {
	if msg.ConversationID == "" || msg.Content == "" {
		return nil, ErrEmptyMessage
	}
	if msg.MessageType == "" {
		msg.MessageType = MessageTypeText
	}
	owner, err := m.owner(ctx)
	if err != nil {
		return nil, err
	}
	id, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	return m.enqueue(ctx, owner, id, msg)
}

// owner returns the bound user, who owns any message sent or queued now.
func (m *Manager) owner(ctx context.Context) (string, error) {
	userID, err := m.sender.BoundUserID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrAuthenticationRequired, err)
	}
	return userID, nil
}

func (m *Manager) enqueue(ctx context.Context, owner, id string, msg OutgoingMessage) (*QueuedMessage, error) {
	queued := QueuedMessage{
		ID:             id,
		UserID:         owner,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		ReplyTo:        msg.ReplyTo,
		Status:         StatusQueued,
		IsOffline:      true,
		Timestamp:      m.nowFunc(),
	}

	m.mu.Lock()
	m.queue = append(m.queue, queued)
	if err := m.persistQueueLocked(ctx); err != nil {
		m.queue = m.queue[:len(m.queue)-1]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.logger.Info().Str("queued_id", id).Str("conversation_id", msg.ConversationID).Msg("message queued")
	m.bus.Emit(events.OfflineMessageQueued, queued)
	return &queued, nil
}

// SyncMessages replays the bound user's queued messages head to tail.
// Confirmed messages are removed and announced with offline:messageSent;
// messages the backend will never accept are removed and announced with
// offline:messageRejected. Other failures stay queued for the next pass,
// except that an authentication failure or a change of bound user ends the
// pass. Messages queued by other users wait until their session is bound.
// Only one pass runs at a time.
func (m *Manager) SyncMessages(ctx context.Context) (*SyncResult, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	// Without a bound user nothing can be sent and every message stays queued.
	// Messages without an owner predate owner tracking and go out as the bound user.
	owner, _ := m.sender.BoundUserID(ctx)

	m.mu.Lock()
	var pending []QueuedMessage
	for _, qm := range m.queue {
		if owner != "" && (qm.UserID == owner || qm.UserID == "") {
			pending = append(pending, qm)
		}
	}
	m.mu.Unlock()

	result := &SyncResult{TotalCount: len(pending)}
	for _, qm := range pending {
		if ctx.Err() != nil {
			break
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				break
			}
		}
		if !m.markSending(ctx, qm.ID) {
			continue // discarded meanwhile
		}

		sent, err := m.send(ctx, owner, qm.ID, qm.outgoing())
		if err == nil {
			m.remove(ctx, qm.ID)
			result.SuccessCount++
			delivered := qm
			delivered.UserID = owner
			delivered.Status = StatusSent
			delivered.IsOffline = false
			delivered.Attempts++
			m.logger.Info().Str("queued_id", qm.ID).Str("message_id", sent.ID).Msg("queued message delivered")
			m.bus.Emit(events.OfflineMessageSent, MessageSentPayload{QueuedID: qm.ID, ServerMessage: *sent, Queued: delivered})
			continue
		}

		if errors.Is(err, apperrors.ErrStaleSession) {
			m.update(ctx, qm.ID, func(q *QueuedMessage) {
				q.Status = qm.Status
				q.Attempts = qm.Attempts
			})
			m.logger.Info().Str("queued_id", qm.ID).Str("user_id", owner).Msg("sync stopped, bound user changed")
			break
		}

		var rf *apperrors.RequestFailedError
		if errors.As(err, &rf) && rf.IsDefinitive() {
			m.remove(ctx, qm.ID)
			result.Rejected++
			m.logger.Warn().Str("queued_id", qm.ID).Int("status", rf.Status).Msg("queued message rejected")
			m.bus.Emit(events.OfflineMessageRejected, MessageRejectedPayload{QueuedID: qm.ID, Status: rf.Status, Message: rf.Message})
			continue
		}

		m.markFailed(ctx, qm.ID, err)
		if errors.Is(err, apperrors.ErrAuthenticationRequired) {
			m.logger.Warn().Str("queued_id", qm.ID).Msg("sync stopped, authentication required")
			break
		}
		m.logger.Debug().Err(err).Str("queued_id", qm.ID).Msg("queued message kept for next sync")
	}

	m.mu.Lock()
	result.Remaining = len(m.queue)
	m.mu.Unlock()

	m.bus.Emit(events.OfflineSyncComplete, SyncCompletePayload{SuccessCount: result.SuccessCount, TotalCount: result.TotalCount})
	return result, nil
}

// SetOnline records a connectivity change. Going online starts one background
// sync; going offline only flips the flag.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if !online {
		m.logger.Info().Msg("offline")
		m.bus.Emit(events.NetworkOffline, nil)
		return
	}

	m.logger.Info().Msg("online, syncing queued messages")
	m.bus.Emit(events.NetworkOnline, nil)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		if _, err := m.SyncMessages(context.Background()); err != nil && !errors.Is(err, ErrSyncInProgress) {
			m.logger.Error().Err(err).Msg("background sync failed")
		}
	}()
}

func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Wait blocks until background syncs started by SetOnline have finished.
func (m *Manager) Wait() {
	m.background.Wait()
}

// Queue returns a copy of the queued messages in enqueue order.
func (m *Manager) Queue() []QueuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueuedMessage(nil), m.queue...)
}

// DiscardQueued drops a queued message the user no longer wants sent.
func (m *Manager) DiscardQueued(ctx context.Context, id string) error {
	if !m.remove(ctx, id) {
		return apperrors.Wrapf(apperrors.ErrNotFound, "queued message %s", id)
	}
	return nil
}

func (m *Manager) send(ctx context.Context, owner, clientID string, msg OutgoingMessage) (*Message, error) {
	resp, err := m.sender.AuthenticatedRequest(ctx, client.Request{
		Method: http.MethodPost,
		Path:   MessagesPath(msg.ConversationID),
		UserID: owner,
		Body: SendRequest{
			Content:     msg.Content,
			MessageType: msg.MessageType,
			ReplyTo:     msg.ReplyTo,
			ClientID:    clientID,
		},
	})
	if err != nil {
		return nil, err
	}
	var sent Message
	if err := resp.Decode(&sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

func (m *Manager) markSending(ctx context.Context, id string) bool {
	return m.update(ctx, id, func(q *QueuedMessage) {
		q.Status = StatusSending
		q.Attempts++
	})
}

func (m *Manager) markFailed(ctx context.Context, id string, cause error) {
	m.update(ctx, id, func(q *QueuedMessage) {
		q.Status = StatusFailed
		q.LastError = cause.Error()
	})
}

func (m *Manager) update(ctx context.Context, id string, mutate func(q *QueuedMessage)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID == id {
			mutate(&m.queue[i])
			if err := m.persistQueueLocked(ctx); err != nil {
				m.logger.Error().Err(err).Msg("failed to persist offline queue")
			}
			return true
		}
	}
	return false
}

func (m *Manager) remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			if err := m.persistQueueLocked(ctx); err != nil {
				m.logger.Error().Err(err).Msg("failed to persist offline queue")
			}
			return true
		}
	}
	return false
}

func (m *Manager) persistQueueLocked(ctx context.Context) error {
	if len(m.queue) == 0 {
		return m.durable.Delete(ctx, storage.KeyOfflineQueue)
	}
	return storage.SetJSON(ctx, m.durable, storage.KeyOfflineQueue, m.queue)
}
