package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "pairchat/internal/domain/chat"
	domainuser "pairchat/internal/domain/user"
)

// MessageRepository stores messages with created_at in nanoseconds so sends
// within the same millisecond keep their order.
type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection(messagesCollection)}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	if _, err := r.col.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		return fmt.Errorf("mongo: insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"conversation_id": string(id)}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list messages: %w", err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode messages: %w", err)
	}
	out := make([]*domainchat.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toMessage())
	}
	return out, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, reader domainuser.ID) (int64, error) {
	update := bson.M{"$addToSet": bson.M{"read_by": string(reader)}}
	res, err := r.col.UpdateMany(ctx, unreadFilter(id, reader), update)
	if err != nil {
		return 0, fmt.Errorf("mongo: mark read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, id domainchat.ConversationID, reader domainuser.ID) (int64, error) {
	count, err := r.col.CountDocuments(ctx, unreadFilter(id, reader))
	if err != nil {
		return 0, fmt.Errorf("mongo: count unread: %w", err)
	}
	return count, nil
}

// unreadFilter matches messages in the conversation sent by someone other
// than reader whose read_by array does not contain reader.
func unreadFilter(id domainchat.ConversationID, reader domainuser.ID) bson.M {
	return bson.M{
		"conversation_id": string(id),
		"sender_id":       bson.M{"$ne": string(reader)},
		"read_by":         bson.M{"$ne": string(reader)},
	}
}

type messageDocument struct {
	ID             string   `bson:"_id"`
	ConversationID string   `bson:"conversation_id"`
	SenderID       string   `bson:"sender_id"`
	Content        string   `bson:"content"`
	Kind           string   `bson:"kind"`
	AttachmentURL  string   `bson:"attachment_url,omitempty"`
	AttachmentName string   `bson:"attachment_name,omitempty"`
	CreatedAt      int64    `bson:"created_at"`
	ReadBy         []string `bson:"read_by"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	readBy := make([]string, 0, len(m.ReadBy))
	for _, id := range m.ReadBy {
		readBy = append(readBy, string(id))
	}
	return messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		Content:        m.Content,
		Kind:           string(m.Kind),
		AttachmentURL:  m.AttachmentURL,
		AttachmentName: m.AttachmentName,
		CreatedAt:      m.CreatedAt.UnixNano(),
		ReadBy:         readBy,
	}
}

func (d messageDocument) toMessage() *domainchat.Message {
	readBy := make([]domainuser.ID, 0, len(d.ReadBy))
	for _, id := range d.ReadBy {
		readBy = append(readBy, domainuser.ID(id))
	}
	return &domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       domainuser.ID(d.SenderID),
		Content:        d.Content,
		Kind:           domainchat.Kind(d.Kind),
		AttachmentURL:  d.AttachmentURL,
		AttachmentName: d.AttachmentName,
		CreatedAt:      time.Unix(0, d.CreatedAt).UTC(),
		ReadBy:         readBy,
	}
}

var _ domainchat.MessageRepository = (*MessageRepository)(nil)
