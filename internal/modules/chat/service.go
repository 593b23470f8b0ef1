package chat

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/campuslink/core/internal/pkg/pagination"
	"github.com/campuslink/core/internal/pkg/retry"
	"go.uber.org/zap"
)

const lockStripes = 64

// Service is the chat/message pipeline: persist first, then fan out.
type Service struct {
	store     Store
	emitter   Emitter
	directory Directory
	logger    *zap.Logger
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

type Option func(*Service)

// WithDirectory makes EnsureChat reject subjects without a profile.
func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("Chat")
		}
	}
}

func NewService(store Store, emitter Emitter, opts ...Option) *Service {
	s := &Service{
		store:   store,
		emitter: emitter,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreKind names the active chat backend.
func (s *Service) StoreKind() string { return s.store.Kind() }

func (s *Service) lockFor(chatID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return &s.locks[h.Sum32()%lockStripes]
}

// EnsureChat returns the chat between a and b, creating it on first use.
func (s *Service) EnsureChat(ctx context.Context, a, b string) (*Chat, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, apperr.Validation("both participant ids are required")
	}
	if a == b {
		return nil, apperr.Validation("cannot open a chat with yourself")
	}
	if s.directory != nil {
		for _, id := range []string{a, b} {
			ok, err := retry.Read(ctx, func() (bool, error) { return s.directory.Exists(ctx, id) })
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, apperr.NotFound("user " + id)
			}
		}
	}

	lo, hi := models.OrderPair(a, b)
	m, err := retry.Read(ctx, func() (*models.ChatModel, error) { return s.store.EnsureChat(ctx, lo, hi) })
	if err != nil {
		return nil, err
	}
	c := toChat(m)
	return &c, nil
}

// ListChats returns the subject's chats, most recent activity first. Chats that
// never carried a message sort last, newest first.
func (s *Service) ListChats(ctx context.Context, subjectID string) ([]ChatSummary, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, apperr.Validation("subject id is required")
	}
	chats, err := retry.Read(ctx, func() ([]models.ChatModel, error) { return s.store.ListChats(ctx, subjectID) })
	if err != nil {
		return nil, err
	}
	unread, err := retry.Read(ctx, func() (map[string]int64, error) { return s.store.UnreadCounts(ctx, subjectID) })
	if err != nil {
		return nil, err
	}

	sort.SliceStable(chats, func(i, j int) bool {
		ai, aj := chats[i].LastMessageAt, chats[j].LastMessageAt
		switch {
		case ai != nil && aj != nil:
			if !ai.Equal(*aj) {
				return ai.After(*aj)
			}
		case ai != nil:
			return true
		case aj != nil:
			return false
		}
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})

	out := make([]ChatSummary, 0, len(chats))
	for i := range chats {
		out = append(out, ChatSummary{Chat: toChat(&chats[i]), Unread: unread[chats[i].ID]})
	}
	return out, nil
}

// SendMessage persists a message and the chat summary, then emits message:new and
// chat:updated to both participants. Messages of one chat are persisted and emitted
// in submission order.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID, receiverID, text string) (*models.MessageModel, error) {
	chatID = strings.TrimSpace(chatID)
	text = strings.TrimSpace(text)
	switch {
	case chatID == "":
		return nil, apperr.Validation("chatId is required")
	case senderID == "" || receiverID == "":
		return nil, apperr.Validation("sender and receiver are required")
	case senderID == receiverID:
		return nil, apperr.Validation("sender and receiver must differ")
	case text == "":
		return nil, apperr.Validation("message text is empty")
	case utf8.RuneCountInString(text) > MaxTextLength:
		return nil, apperr.Validation("message text exceeds %d characters", MaxTextLength)
	}

	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()

	chat, err := retry.Read(ctx, func() (*models.ChatModel, error) { return s.store.GetChat(ctx, chatID) })
	if err != nil {
		return nil, err
	}
	if !chat.Has(senderID) || !chat.Has(receiverID) {
		return nil, apperr.Validation("sender and receiver must be the chat participants")
	}

	msg := &models.MessageModel{
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  s.now(),
	}
	updated, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		s.logger.Warn("message not persisted", zap.String("chat", chatID), zap.Error(err))
		return nil, err
	}

	if s.emitter != nil {
		event := ChatUpdated{ChatID: chatID, LastMessage: msg.Text, At: msg.CreatedAt}
		if updated.LastMessageAt != nil {
			event.LastMessage = updated.LastMessage
			event.At = *updated.LastMessageAt
		}
		for _, id := range []string{senderID, receiverID} {
			s.emitter.EmitToSubject(id, EventMessageNew, msg)
			s.emitter.EmitToSubject(id, EventChatUpdated, event)
		}
	}
	return msg, nil
}

// ListMessages returns up to limit messages created strictly before the cursor, in
// ascending order. A nil cursor returns the latest messages.
func (s *Service) ListMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]models.MessageModel, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, apperr.Validation("chatId is required")
	}
	limit = pagination.ClampLimit(limit)

	msgs, err := retry.Read(ctx, func() ([]models.MessageModel, error) {
		return s.store.ListMessages(ctx, chatID, before, limit)
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessagesFor is ListMessages restricted to a participant of the chat.
func (s *Service) ListMessagesFor(ctx context.Context, subjectID, chatID string, before *time.Time, limit int) ([]models.MessageModel, error) {
	if _, err := s.participantChat(ctx, chatID, subjectID); err != nil {
		return nil, err
	}
	return s.ListMessages(ctx, chatID, before, limit)
}

// MarkSeen flips unseen messages addressed to subjectID and returns how many changed.
func (s *Service) MarkSeen(ctx context.Context, chatID, subjectID string) (int64, error) {
	if _, err := s.participantChat(ctx, chatID, subjectID); err != nil {
		return 0, err
	}
	return s.store.MarkSeen(ctx, chatID, subjectID, s.now())
}

func (s *Service) participantChat(ctx context.Context, chatID, subjectID string) (*models.ChatModel, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, apperr.Validation("chatId is required")
	}
	chat, err := retry.Read(ctx, func() (*models.ChatModel, error) { return s.store.GetChat(ctx, chatID) })
	if err != nil {
		return nil, err
	}
	if !chat.Has(subjectID) {
		return nil, apperr.NotFound("chat")
	}
	return chat, nil
}
