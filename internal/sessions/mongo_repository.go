package sessions

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements Repository using a Mongo collection
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the unique token hash index, the partial unique
// (userId, deviceId) index over unrevoked records and the sweep index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "deviceId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"revoked": false}),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "issuedAt", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
	})
	return err
}

// Create maps a duplicate key to ErrActiveDeviceSession: the token hash is
// 32 random bytes, so in practice only the (userId, deviceId) index collides.
func (r *MongoRepository) Create(ctx context.Context, s *Session) error {
	_, err := r.col.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return ErrActiveDeviceSession
	}
	return err
}

func (r *MongoRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	var s Session
	if err := r.col.FindOne(ctx, bson.M{"tokenHash": tokenHash}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) ListUnrevoked(ctx context.Context, userID string) ([]*Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "issuedAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"userId": userID, "revoked": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke filters on revoked=false so the server applies the flip at most once.
func (r *MongoRepository) Revoke(ctx context.Context, tokenHash string, usedAt *time.Time) (bool, error) {
	set := bson.M{"revoked": true}
	if usedAt != nil {
		set["lastUsedAt"] = *usedAt
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"tokenHash": tokenHash, "revoked": false}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *MongoRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revokeMany(ctx, bson.M{"userId": userID, "revoked": false})
}

func (r *MongoRepository) RevokeForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	return r.revokeMany(ctx, bson.M{"userId": userID, "deviceId": deviceID, "revoked": false})
}

func (r *MongoRepository) revokeMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := r.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"expiresAt": bson.M{"$lt": now}},
		bson.M{"revoked": true},
	}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
