package chat

import (
	"context"
	"time"

	"github.com/campuslink/core/internal/models"
)

// Events emitted to participant rooms.
const (
	EventMessageNew  = "message:new"
	EventChatUpdated = "chat:updated"
)

// MaxTextLength bounds a single message body, in runes.
const MaxTextLength = 4000

// Store persists chats and messages. Implementations translate driver failures
// into apperr.ErrNotFound and apperr.ErrTransientStore.
type Store interface {
	Kind() string
	// EnsureChat returns the chat for the ordered pair a < b, creating it once.
	EnsureChat(ctx context.Context, a, b string) (*models.ChatModel, error)
	GetChat(ctx context.Context, chatID string) (*models.ChatModel, error)
	ListChats(ctx context.Context, subjectID string) ([]models.ChatModel, error)
	// UnreadCounts maps chat id to the number of unseen messages addressed to subjectID.
	UnreadCounts(ctx context.Context, subjectID string) (map[string]int64, error)
	// AppendMessage assigns Seq and a per-chat strictly increasing CreatedAt, stores the
	// message and updates the chat summary. It returns the updated chat.
	AppendMessage(ctx context.Context, msg *models.MessageModel) (*models.ChatModel, error)
	// ListMessages returns up to limit messages older than before (all when nil),
	// newest first.
	ListMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]models.MessageModel, error)
	MarkSeen(ctx context.Context, chatID, subjectID string, at time.Time) (int64, error)
}

// Emitter delivers an event to every session joined to a subject's room.
type Emitter interface {
	EmitToSubject(subjectID, event string, payload any)
}

// Directory reports whether a subject has a profile.
type Directory interface {
	Exists(ctx context.Context, subjectID string) (bool, error)
}

// Chat is the client view of a conversation.
type Chat struct {
	ID            string     `json:"chatId"`
	Participants  []string   `json:"participants"`
	LastMessage   string     `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ChatSummary is a Chat with the caller's unread count.
type ChatSummary struct {
	Chat
	Unread int64 `json:"unread"`
}

// ChatUpdated is the chat:updated payload.
type ChatUpdated struct {
	ChatID      string    `json:"chatId"`
	LastMessage string    `json:"lastMessage"`
	At          time.Time `json:"at"`
}

type EnsureChatDTO struct {
	WithUserID string `json:"withUserId"`
}

type SendMessageDTO struct {
	ChatID   string `json:"chatId"`
	Receiver string `json:"receiver"`
	To       string `json:"to"`
	Text     string `json:"text"`
}

// ReceiverID accepts either receiver or to.
func (d SendMessageDTO) ReceiverID() string {
	if d.Receiver != "" {
		return d.Receiver
	}
	return d.To
}

func toChat(m *models.ChatModel) Chat {
	return Chat{
		ID:            m.ID,
		Participants:  m.Participants(),
		LastMessage:   m.LastMessage,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
	}
}

// nextCreatedAt keeps CreatedAt strictly increasing within a chat at millisecond
// resolution so that timestamp cursors never skip a message.
func nextCreatedAt(now time.Time, last *time.Time) time.Time {
	t := now.UTC().Truncate(time.Millisecond)
	if last != nil {
		floor := last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
		if t.Before(floor) {
			t = floor
		}
	}
	return t
}
