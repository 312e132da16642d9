package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainuser "pairchat/internal/domain/user"
)

type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection(usersCollection)}
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *UserRepository) ByUsername(ctx context.Context, username string) (*domainuser.User, error) {
	return r.findOne(ctx, bson.M{"username": domainuser.NormalizeUsername(username)})
}

func (r *UserRepository) Create(ctx context.Context, user *domainuser.User) error {
	if _, err := r.col.InsertOne(ctx, newUserDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainuser.ErrUsernameTaken
		}
		return fmt.Errorf("mongo: insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) SetConnection(ctx context.Context, id domainuser.ID, connectionID string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"online":        true,
		"connection_id": connectionID,
		"updated_at":    at.UTC().UnixMilli(),
	}}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": string(id)}, update)
	if err != nil {
		return fmt.Errorf("mongo: bind connection: %w", err)
	}
	if res.MatchedCount == 0 {
		return domainuser.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ClearConnection(ctx context.Context, id domainuser.ID, connectionID string, at time.Time) (bool, error) {
	filter := bson.M{"_id": string(id), "connection_id": connectionID}
	update := bson.M{"$set": bson.M{
		"online":        false,
		"connection_id": "",
		"updated_at":    at.UTC().UnixMilli(),
	}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongo: release connection: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

func (r *UserRepository) ListOnline(ctx context.Context) ([]*domainuser.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"online": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list online users: %w", err)
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode online users: %w", err)
	}
	users := make([]*domainuser.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toUser())
	}
	return users, nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domainuser.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainuser.ErrNotFound
		}
		return nil, fmt.Errorf("mongo: find user: %w", err)
	}
	return doc.toUser(), nil
}

type userDocument struct {
	ID           string `bson:"_id"`
	Username     string `bson:"username"`
	PasswordHash string `bson:"password_hash"`
	Online       bool   `bson:"online"`
	ConnectionID string `bson:"connection_id"`
	CreatedAt    int64  `bson:"created_at"`
	UpdatedAt    int64  `bson:"updated_at"`
}

func newUserDocument(u *domainuser.User) userDocument {
	return userDocument{
		ID:           string(u.ID),
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Online:       u.Online,
		ConnectionID: u.ConnectionID,
		CreatedAt:    u.CreatedAt.UnixMilli(),
		UpdatedAt:    u.UpdatedAt.UnixMilli(),
	}
}

func (d userDocument) toUser() *domainuser.User {
	return &domainuser.User{
		ID:           domainuser.ID(d.ID),
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		Online:       d.Online,
		ConnectionID: d.ConnectionID,
		CreatedAt:    timestampToTime(d.CreatedAt),
		UpdatedAt:    timestampToTime(d.UpdatedAt),
	}
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ domainuser.Repository = (*UserRepository)(nil)
