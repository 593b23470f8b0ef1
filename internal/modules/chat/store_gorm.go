package chat

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/pkg/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps chats and messages in MySQL or SQLite.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Kind() string { return "sql:" + s.db.Dialector.Name() }

func (s *GormStore) EnsureChat(ctx context.Context, a, b string) (*models.ChatModel, error) {
	key := models.PairKey(a, b)
	var chat models.ChatModel
	err := s.db.WithContext(ctx).Where("pair_key = ?", key).First(&chat).Error
	if err == nil {
		return &chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, classify("find chat", err)
	}

	created := models.ChatModel{UserA: a, UserB: b, PairKey: key}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "pair_key"}}, DoNothing: true}).
		Create(&created).Error
	if err != nil {
		return nil, classify("create chat", err)
	}

	// The insert may have lost a race; the unique index decides which row is the chat.
	chat = models.ChatModel{}
	if err := s.db.WithContext(ctx).Where("pair_key = ?", key).First(&chat).Error; err != nil {
		return nil, classify("find chat", err)
	}
	return &chat, nil
}

func (s *GormStore) GetChat(ctx context.Context, chatID string) (*models.ChatModel, error) {
	var chat models.ChatModel
	if err := s.db.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error; err != nil {
		return nil, classify("find chat", err)
	}
	return &chat, nil
}

func (s *GormStore) ListChats(ctx context.Context, subjectID string) ([]models.ChatModel, error) {
	var chats []models.ChatModel
	err := s.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", subjectID, subjectID).
		Find(&chats).Error
	if err != nil {
		return nil, classify("list chats", err)
	}
	return chats, nil
}

type unreadRow struct {
	ChatID string
	Unread int64
}

func (s *GormStore) UnreadCounts(ctx context.Context, subjectID string) (map[string]int64, error) {
	var rows []unreadRow
	err := s.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Select("chat_id, COUNT(*) AS unread").
		Where("receiver_id = ? AND seen = ?", subjectID, false).
		Group("chat_id").
		Scan(&rows).Error
	if err != nil {
		return nil, classify("count unread", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ChatID] = r.Unread
	}
	return out, nil
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *models.MessageModel) (*models.ChatModel, error) {
	var chat models.ChatModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Bumping the counter first takes the row lock that orders concurrent
		// senders across processes.
		res := tx.Model(&models.ChatModel{}).
			Where("id = ?", msg.ChatID).
			UpdateColumn("last_seq", gorm.Expr("last_seq + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("chat")
		}
		if err := tx.Where("id = ?", msg.ChatID).First(&chat).Error; err != nil {
			return err
		}

		now := msg.CreatedAt
		if now.IsZero() {
			now = s.now()
		}
		msg.Seq = chat.LastSeq
		msg.CreatedAt = nextCreatedAt(now, chat.LastMessageAt)
		msg.Seen = false
		msg.SeenAt = nil
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		at := msg.CreatedAt
		if err := tx.Model(&models.ChatModel{}).
			Where("id = ?", chat.ID).
			Updates(map[string]any{
				"last_message":    msg.Text,
				"last_message_at": at,
				"updated_at":      s.now().UTC(),
			}).Error; err != nil {
			return err
		}
		chat.LastMessage = msg.Text
		chat.LastMessageAt = &at
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, classify("append message", err)
	}
	return &chat, nil
}

func (s *GormStore) ListMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]models.MessageModel, error) {
	var msgs []models.MessageModel
	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if before != nil {
		q = q.Where("created_at < ?", before.UTC())
	}
	err := q.Order("created_at DESC").
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, classify("list messages", err)
	}
	return msgs, nil
}

func (s *GormStore) MarkSeen(ctx context.Context, chatID, subjectID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("chat_id = ? AND receiver_id = ? AND seen = ?", chatID, subjectID, false).
		Updates(map[string]any{"seen": true, "seen_at": at.UTC()})
	if res.Error != nil {
		return 0, classify("mark seen", res.Error)
	}
	return res.RowsAffected, nil
}

// classify maps gorm errors onto the application taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("chat")
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return apperr.Transient(op, err)
	}
	return err
}
