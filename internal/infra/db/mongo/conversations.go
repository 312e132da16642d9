package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "pairchat/internal/domain/chat"
	domainuser "pairchat/internal/domain/user"
)

type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection(conversationsCollection)}
}

// FindOrCreate upserts on the unique pair key. Two racing upserts can both
// miss and one then fails on the unique index; that one re-reads the winner.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, candidate *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	doc := newConversationDocument(candidate)
	filter := bson.M{"pair_key": doc.PairKey}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":             doc.ID,
		"participants":    doc.Participants,
		"last_message":    doc.LastMessage,
		"last_message_at": doc.LastMessageAt,
		"created_at":      doc.CreatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored conversationDocument
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("mongo: upsert conversation: %w", err)
		}
		if err := r.col.FindOne(ctx, filter).Decode(&stored); err != nil {
			return nil, false, fmt.Errorf("mongo: reload conversation: %w", err)
		}
	}
	return stored.toConversation(), stored.ID == doc.ID, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, fmt.Errorf("mongo: find conversation: %w", err)
	}
	return doc.toConversation(), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID domainuser.ID) ([]*domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"participants": string(userID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list conversations: %w", err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode conversations: %w", err)
	}
	out := make([]*domainchat.Conversation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toConversation())
	}
	return out, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id domainchat.ConversationID, preview string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"last_message":    preview,
		"last_message_at": at.UTC().UnixMilli(),
	}}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": string(id)}, update)
	if err != nil {
		return fmt.Errorf("mongo: touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

type conversationDocument struct {
	ID            string   `bson:"_id"`
	Participants  []string `bson:"participants"`
	PairKey       string   `bson:"pair_key"`
	LastMessage   string   `bson:"last_message"`
	LastMessageAt int64    `bson:"last_message_at"`
	CreatedAt     int64    `bson:"created_at"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	return conversationDocument{
		ID:            string(c.ID),
		Participants:  []string{string(c.Participants[0]), string(c.Participants[1])},
		PairKey:       c.PairKey,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt.UnixMilli(),
		CreatedAt:     c.CreatedAt.UnixMilli(),
	}
}

func (d conversationDocument) toConversation() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:            domainchat.ConversationID(d.ID),
		PairKey:       d.PairKey,
		LastMessage:   d.LastMessage,
		LastMessageAt: timestampToTime(d.LastMessageAt),
		CreatedAt:     timestampToTime(d.CreatedAt),
	}
	for i := 0; i < len(d.Participants) && i < 2; i++ {
		conv.Participants[i] = domainuser.ID(d.Participants[i])
	}
	return conv
}

var _ domainchat.ConversationRepository = (*ConversationRepository)(nil)
