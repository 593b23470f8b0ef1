package chat

import (
	"context"
	"errors"
	"time"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

type chatDoc struct {
	ID            string     `bson:"_id"`
	UserA         string     `bson:"user_a"`
	UserB         string     `bson:"user_b"`
	PairKey       string     `bson:"pair_key"`
	LastMessage   string     `bson:"last_message,omitempty"`
	LastMessageAt *time.Time `bson:"last_message_at,omitempty"`
	LastSeq       int64      `bson:"last_seq"`
	SummarySeq    int64      `bson:"summary_seq"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

type messageDoc struct {
	ID         string     `bson:"_id"`
	ChatID     string     `bson:"chat_id"`
	SenderID   string     `bson:"sender_id"`
	ReceiverID string     `bson:"receiver_id"`
	Text       string     `bson:"text"`
	Seq        int64      `bson:"seq"`
	CreatedAt  time.Time  `bson:"created_at"`
	Seen       bool       `bson:"seen"`
	SeenAt     *time.Time `bson:"seen_at,omitempty"`
}

// MongoStore keeps chats and messages in MongoDB. Without multi-document
// transactions the message is written before the chat summary, and the summary
// only moves forward by sequence number.
type MongoStore struct {
	chats    *mongo.Collection
	messages *mongo.Collection
	now      func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		chats:    db.Collection(chatsCollection),
		messages: db.Collection(messagesCollection),
		now:      time.Now,
	}
}

func (s *MongoStore) Kind() string { return "mongo" }

// EnsureIndexes creates the unique pair index and the history/unread indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_a", Value: 1}}},
		{Keys: bson.D{{Key: "user_b", Value: 1}}},
	}); err != nil {
		return classifyMongo("create chat indexes", err)
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "seen", Value: 1}}},
	}); err != nil {
		return classifyMongo("create message indexes", err)
	}
	return nil
}

func (s *MongoStore) EnsureChat(ctx context.Context, a, b string) (*models.ChatModel, error) {
	key := models.PairKey(a, b)
	now := s.now().UTC()
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc chatDoc
	err := s.chats.FindOneAndUpdate(ctx, bson.M{"pair_key": key}, ensureChatUpdate(uuid.NewString(), a, b, key, now), opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on the unique index; the winner's row is the chat.
		err = s.chats.FindOne(ctx, bson.M{"pair_key": key}).Decode(&doc)
	}
	if err != nil {
		return nil, classifyMongo("ensure chat", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) GetChat(ctx context.Context, chatID string) (*models.ChatModel, error) {
	var doc chatDoc
	if err := s.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&doc); err != nil {
		return nil, classifyMongo("find chat", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) ListChats(ctx context.Context, subjectID string) ([]models.ChatModel, error) {
	cur, err := s.chats.Find(ctx, bson.M{"$or": bson.A{bson.M{"user_a": subjectID}, bson.M{"user_b": subjectID}}})
	if err != nil {
		return nil, classifyMongo("list chats", err)
	}
	var docs []chatDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo("list chats", err)
	}
	out := make([]models.ChatModel, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].model())
	}
	return out, nil
}

func (s *MongoStore) UnreadCounts(ctx context.Context, subjectID string) (map[string]int64, error) {
	cur, err := s.messages.Aggregate(ctx, unreadPipeline(subjectID))
	if err != nil {
		return nil, classifyMongo("count unread", err)
	}
	var rows []struct {
		ChatID string `bson:"_id"`
		Unread int64  `bson:"unread"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, classifyMongo("count unread", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ChatID] = r.Unread
	}
	return out, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.MessageModel) (*models.ChatModel, error) {
	var doc chatDoc
	err := s.chats.FindOneAndUpdate(ctx,
		bson.M{"_id": msg.ChatID},
		bson.M{"$inc": bson.M{"last_seq": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, classifyMongo("append message", err)
	}

	now := msg.CreatedAt
	if now.IsZero() {
		now = s.now()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Seq = doc.LastSeq
	msg.CreatedAt = nextCreatedAt(now, doc.LastMessageAt)
	msg.Seen = false
	msg.SeenAt = nil
	if _, err := s.messages.InsertOne(ctx, toMessageDoc(msg)); err != nil {
		return nil, classifyMongo("insert message", err)
	}

	at := msg.CreatedAt
	if _, err := s.chats.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "summary_seq": bson.M{"$lt": msg.Seq}},
		bson.M{"$set": bson.M{
			"last_message":    msg.Text,
			"last_message_at": at,
			"summary_seq":     msg.Seq,
			"updated_at":      s.now().UTC(),
		}},
	); err != nil {
		return nil, classifyMongo("update chat summary", err)
	}
	doc.LastMessage = msg.Text
	doc.LastMessageAt = &at
	return doc.model(), nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]models.MessageModel, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, messagesBefore(chatID, before), opts)
	if err != nil {
		return nil, classifyMongo("list messages", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo("list messages", err)
	}
	out := make([]models.MessageModel, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (s *MongoStore) MarkSeen(ctx context.Context, chatID, subjectID string, at time.Time) (int64, error) {
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"chat_id": chatID, "receiver_id": subjectID, "seen": false},
		bson.M{"$set": bson.M{"seen": true, "seen_at": at.UTC()}},
	)
	if err != nil {
		return 0, classifyMongo("mark seen", err)
	}
	return res.ModifiedCount, nil
}

func ensureChatUpdate(id, a, b, key string, now time.Time) bson.M {
	return bson.M{"$setOnInsert": bson.M{
		"_id":         id,
		"user_a":      a,
		"user_b":      b,
		"pair_key":    key,
		"last_seq":    int64(0),
		"summary_seq": int64(0),
		"created_at":  now,
		"updated_at":  now,
	}}
}

func messagesBefore(chatID string, before *time.Time) bson.M {
	filter := bson.M{"chat_id": chatID}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}
	return filter
}

func unreadPipeline(subjectID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiver_id": subjectID, "seen": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$chat_id", "unread": bson.M{"$sum": 1}}}},
	}
}

func (d *chatDoc) model() *models.ChatModel {
	m := &models.ChatModel{
		UserA:         d.UserA,
		UserB:         d.UserB,
		PairKey:       d.PairKey,
		LastMessage:   d.LastMessage,
		LastMessageAt: d.LastMessageAt,
		LastSeq:       d.LastSeq,
	}
	m.ID = d.ID
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.UpdatedAt
	return m
}

func toMessageDoc(m *models.MessageModel) messageDoc {
	return messageDoc{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt,
		Seen:       m.Seen,
		SeenAt:     m.SeenAt,
	}
}

func (d *messageDoc) model() models.MessageModel {
	return models.MessageModel{
		ID:         d.ID,
		ChatID:     d.ChatID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Seq:        d.Seq,
		CreatedAt:  d.CreatedAt.UTC(),
		Seen:       d.Seen,
		SeenAt:     d.SeenAt,
	}
}

func classifyMongo(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound("chat")
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(op, err)
	}
	return err
}
