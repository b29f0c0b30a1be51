package offline

import (
	"context"

	"github.com/jrsteele09/go-chat-session/storage"
)

// SaveDraft stores the unsent text of a conversation. Saving an empty text
// clears the draft.
func (m *Manager) SaveDraft(ctx context.Context, conversationID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.drafts[conversationID]
	if text == "" {
		delete(m.drafts, conversationID)
	} else {
		m.drafts[conversationID] = text
	}
	if err := storage.SetJSON(ctx, m.durable, storage.KeyDrafts, m.drafts); err != nil {
		if had {
			m.drafts[conversationID] = prev
		} else {
			delete(m.drafts, conversationID)
		}
		return err
	}
	return nil
}

// Draft returns the saved text for a conversation, "" when there is none.
func (m *Manager) Draft(conversationID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[conversationID]
}

func (m *Manager) ClearDraft(ctx context.Context, conversationID string) error {
	return m.SaveDraft(ctx, conversationID, "")
}
