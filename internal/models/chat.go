package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatModel is a one-to-one conversation. UserA < UserB; PairKey is unique.
type ChatModel struct {
	Base
	UserA         string     `json:"-"             gorm:"type:varchar(64);index;not null"`
	UserB         string     `json:"-"             gorm:"type:varchar(64);index;not null"`
	PairKey       string     `json:"-"             gorm:"type:varchar(160);uniqueIndex;not null"`
	LastMessage   string     `json:"lastMessage"   gorm:"type:text"`
	LastMessageAt *time.Time `json:"lastMessageAt" gorm:"index"`
	LastSeq       int64      `json:"-"             gorm:"not null;default:0"`
}

func (ChatModel) TableName() string { return "chats" }

// Participants returns the two subject ids of the chat.
func (c *ChatModel) Participants() []string {
	return []string{c.UserA, c.UserB}
}

// Has reports whether subjectID participates in the chat.
func (c *ChatModel) Has(subjectID string) bool {
	return subjectID != "" && (c.UserA == subjectID || c.UserB == subjectID)
}

// Other returns the participant that is not subjectID.
func (c *ChatModel) Other(subjectID string) string {
	if c.UserA == subjectID {
		return c.UserB
	}
	return c.UserA
}

// OrderPair sorts two subject ids.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey is the unordered identity of a pair of participants. The length prefix
// keeps ids containing the separator from colliding.
func PairKey(a, b string) string {
	a, b = OrderPair(a, b)
	return strconv.Itoa(len(a)) + ":" + a + ":" + b
}

// MessageModel is one chat message. Only Seen/SeenAt ever change after insert.
type MessageModel struct {
	ID         string     `json:"messageId"  gorm:"type:varchar(64);primaryKey"`
	ChatID     string     `json:"chatId"     gorm:"type:varchar(64);not null;index:idx_messages_chat_created,priority:1"`
	SenderID   string     `json:"senderId"   gorm:"type:varchar(64);not null"`
	ReceiverID string     `json:"receiverId" gorm:"type:varchar(64);not null;index:idx_messages_receiver_seen,priority:1"`
	Text       string     `json:"text"       gorm:"type:text;not null"`
	Seq        int64      `json:"seq"        gorm:"not null"`
	CreatedAt  time.Time  `json:"createdAt"  gorm:"not null;index:idx_messages_chat_created,priority:2"`
	Seen       bool       `json:"seen"       gorm:"not null;default:false;index:idx_messages_receiver_seen,priority:2"`
	SeenAt     *time.Time `json:"seenAt"`
}

func (MessageModel) TableName() string { return "messages" }

func (m *MessageModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
