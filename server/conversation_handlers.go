package server

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/offline"
	"github.com/jrsteele09/go-chat-session/server/conversations"
)

const defaultPageSize = 50

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	Name      string   `json:"name,omitempty"`
	MemberIDs []string `json:"memberIds"`
}

// CreateConversationHandler creates a conversation. The caller is always a member.
func (s *Server) CreateConversationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())

		var req CreateConversationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}

		members := []string{userID}
		for _, id := range req.MemberIDs {
			if id == "" || slices.Contains(members, id) {
				continue
			}
			if _, err := s.repos.Users.GetByID(id); err != nil {
				writeJSONError(w, CodeInvalidRequest, "unknown member "+id, http.StatusBadRequest)
				return
			}
			members = append(members, id)
		}

		conv := &conversations.Conversation{
			Name:      strings.TrimSpace(req.Name),
			MemberIDs: members,
			CreatedBy: userID,
			CreatedAt: s.nowFunc().UTC(),
		}
		if err := s.repos.Conversations.Upsert(conv); err != nil {
			s.logger.Error().Err(err).Msg("store conversation")
			writeJSONError(w, CodeInternal, "could not create conversation", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

// PostMessageHandler stores a message. A replayed clientId returns the
// message stored the first time with 200 instead of 201.
func (s *Server) PostMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())

		conv, ok := s.memberConversation(w, r.PathValue("id"), userID)
		if !ok {
			return
		}

		var req offline.SendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeJSONError(w, CodeInvalidRequest, "content is required", http.StatusBadRequest)
			return
		}
		switch req.MessageType {
		case "":
			req.MessageType = offline.MessageTypeText
		case offline.MessageTypeText, offline.MessageTypeImage, offline.MessageTypeFile:
		default:
			writeJSONError(w, CodeInvalidRequest, "unsupported message type", http.StatusBadRequest)
			return
		}

		stored, created, err := s.repos.Conversations.AppendMessage(&offline.Message{
			ConversationID: conv.ID,
			SenderID:       userID,
			Content:        req.Content,
			MessageType:    req.MessageType,
			ReplyTo:        req.ReplyTo,
			ClientID:       req.ClientID,
			CreatedAt:      s.nowFunc().UTC(),
		})
		if err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("store message")
			writeJSONError(w, CodeInternal, "could not store message", http.StatusInternalServerError)
			return
		}

		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		writeJSON(w, status, stored)
	}
}

// ListMessagesHandler pages through a conversation with ?offset= and ?limit=.
func (s *Server) ListMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.memberConversation(w, r.PathValue("id"), UserIDFromContext(r.Context()))
		if !ok {
			return
		}

		offset := queryInt(r, "offset", 0)
		limit := queryInt(r, "limit", defaultPageSize)
		msgs, err := s.repos.Conversations.Messages(conv.ID, offset, limit)
		if err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("list messages")
			writeJSONError(w, CodeInternal, "could not list messages", http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []*offline.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// memberConversation loads a conversation and checks membership, writing the
// 404 or 403 response itself when either fails.
func (s *Server) memberConversation(w http.ResponseWriter, id, userID string) (*conversations.Conversation, bool) {
	conv, err := s.repos.Conversations.Get(id)
	if errors.Is(err, apperrors.ErrConversationNotFound) {
		writeJSONError(w, CodeConversationNotFound, "conversation not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", id).Msg("load conversation")
		writeJSONError(w, CodeInternal, "could not load conversation", http.StatusInternalServerError)
		return nil, false
	}
	if !conv.HasMember(userID) {
		writeJSONError(w, CodeForbidden, "not a member of this conversation", http.StatusForbidden)
		return nil, false
	}
	return conv, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
