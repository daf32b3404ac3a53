package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/user/entity"
)

// MongoRepo stores users as documents in the "users" collection.
type MongoRepo struct {
	coll *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection("users")}
}

// EnsureIndexes creates the unique username and oauth_id indexes. Both are
// sparse because each user carries only one of the two fields.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_username"),
		},
		{
			Keys:    bson.D{{Key: "oauth_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_oauth_id"),
		},
	})
	return err
}

func (r *MongoRepo) Create(ctx context.Context, u *entity.User) error {
	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

// FindOrCreateByOAuthID upserts on oauth_id. The pre-image tells whether the
// document was created by this call.
func (r *MongoRepo) FindOrCreateByOAuthID(ctx context.Context, oauthID string) (*entity.User, bool, error) {
	now := time.Now().UTC()
	id := primitive.NewObjectID().Hex()
	update := bson.M{"$setOnInsert": bson.M{
		"_id":        id,
		"oauth_id":   oauthID,
		"created_at": now,
		"updated_at": now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)

	var existing entity.User
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"oauth_id": oauthID}, update, opts).Decode(&existing)
	switch {
	case err == nil:
		return &existing, false, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return &entity.User{ID: id, OAuthID: strPtr(oauthID), CreatedAt: now, UpdatedAt: now}, true, nil
	case mongo.IsDuplicateKeyError(err):
		// lost an upsert race against the same identity
		u, err := r.findOne(ctx, bson.M{"oauth_id": oauthID})
		return u, false, err
	default:
		return nil, false, err
	}
}

func (r *MongoRepo) UpdateSecret(ctx context.Context, id, secret string) error {
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"secret":     secret,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepo) findOne(ctx context.Context, filter bson.M) (*entity.User, error) {
	var u entity.User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
