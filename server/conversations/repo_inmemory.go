package conversations

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/offline"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*offline.Message // conversation id to messages in arrival order
	clientIDs     map[string]*offline.Message   // sender id + client id to message
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*offline.Message),
		clientIDs:     make(map[string]*offline.Message),
	}
}

// Upsert stores or updates a conversation. An empty ID is assigned one.
func (r *InMemoryRepo) Upsert(conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("%w: conversation cannot be nil", apperrors.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	stored := *conv
	stored.MemberIDs = append([]string(nil), conv.MemberIDs...)
	r.conversations[conv.ID] = &stored
	return nil
}

func (r *InMemoryRepo) Get(id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	out := *conv
	out.MemberIDs = append([]string(nil), conv.MemberIDs...)
	return &out, nil
}

func (r *InMemoryRepo) AppendMessage(msg *offline.Message) (*offline.Message, bool, error) {
	if msg == nil {
		return nil, false, fmt.Errorf("%w: message cannot be nil", apperrors.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[msg.ConversationID]; !ok {
		return nil, false, apperrors.ErrConversationNotFound
	}

	dedupeKey := ""
	if msg.ClientID != "" {
		dedupeKey = msg.SenderID + "/" + msg.ClientID
		if existing, ok := r.clientIDs[dedupeKey]; ok {
			out := *existing
			return &out, false, nil
		}
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	r.messages[stored.ConversationID] = append(r.messages[stored.ConversationID], &stored)
	if dedupeKey != "" {
		r.clientIDs[dedupeKey] = &stored
	}

	out := stored
	return &out, true, nil
}

func (r *InMemoryRepo) Messages(conversationID string, offset, limit int) ([]*offline.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.conversations[conversationID]; !ok {
		return nil, apperrors.ErrConversationNotFound
	}

	all := r.messages[conversationID]
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*offline.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		msg := *m
		out = append(out, &msg)
	}
	return out, nil
}
