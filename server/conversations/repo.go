package conversations

import (
	"slices"
	"time"

	"github.com/jrsteele09/go-chat-session/offline"
)

// Conversation is a chat room. Only members may read or post messages.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	MemberIDs []string  `json:"memberIds"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c Conversation) HasMember(userID string) bool {
	return slices.Contains(c.MemberIDs, userID)
}

// Repo stores conversations and their messages.
type Repo interface {
	Upsert(conv *Conversation) error
	Get(id string) (*Conversation, error)
	// AppendMessage stores msg unless a message with the same sender and
	// ClientID already exists, in which case the stored one is returned and
	// created is false.
	AppendMessage(msg *offline.Message) (stored *offline.Message, created bool, err error)
	Messages(conversationID string, offset, limit int) ([]*offline.Message, error)
}
