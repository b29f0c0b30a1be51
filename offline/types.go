package offline

import (
	"errors"
	"fmt"
	"time"
)

// Status is the delivery state of a queued message.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrEmptyMessage   = errors.New("message needs a conversation and content")
)

// MessagesPath is the backend endpoint for a conversation's messages.
func MessagesPath(conversationID string) string {
	return fmt.Sprintf("/api/conversations/%s/messages", conversationID)
}

// OutgoingMessage is what the user asked to send.
type OutgoingMessage struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType,omitempty"`
	ReplyTo        *string     `json:"replyTo,omitempty"`
}

// QueuedMessage is an outgoing message persisted until the backend confirms it.
// ID is generated on the client and sent as clientId. UserID is the user who
// queued it; only that user's session sends it.
type QueuedMessage struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
	ReplyTo        *string     `json:"replyTo,omitempty"`
	Status         Status      `json:"status"`
	IsOffline      bool        `json:"isOffline"`
	Timestamp      time.Time   `json:"timestamp"`
	Attempts       int         `json:"attempts,omitempty"`
	LastError      string      `json:"lastError,omitempty"`
}

func (q QueuedMessage) outgoing() OutgoingMessage {
	return OutgoingMessage{
		ConversationID: q.ConversationID,
		Content:        q.Content,
		MessageType:    q.MessageType,
		ReplyTo:        q.ReplyTo,
	}
}

// Message is a message as confirmed by the backend.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
	ReplyTo        *string     `json:"replyTo,omitempty"`
	ClientID       string      `json:"clientId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// SendRequest is the body posted to MessagesPath.
type SendRequest struct {
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	ReplyTo     *string     `json:"replyTo,omitempty"`
	ClientID    string      `json:"clientId"`
}

// SendResult holds either the confirmed message or, when the backend could not
// be reached, the queued one.
type SendResult struct {
	Message *Message
	Queued  *QueuedMessage
}

// SyncResult summarises one sync pass. Messages of users other than the bound
// one are left alone and not counted.
type SyncResult struct {
	SuccessCount int
	TotalCount   int
	Rejected     int
	Remaining    int
}

// MessageSentPayload accompanies events.OfflineMessageSent. Queued is the
// delivered record with status sent.
type MessageSentPayload struct {
	QueuedID      string        `json:"queuedId"`
	ServerMessage Message       `json:"serverMessage"`
	Queued        QueuedMessage `json:"queued"`
}

// MessageRejectedPayload accompanies events.OfflineMessageRejected.
type MessageRejectedPayload struct {
	QueuedID string `json:"queuedId"`
	Status   int    `json:"status"`
	Message  string `json:"message"`
}

// SyncCompletePayload accompanies events.OfflineSyncComplete.
type SyncCompletePayload struct {
	SuccessCount int `json:"successCount"`
	TotalCount   int `json:"totalCount"`
}
