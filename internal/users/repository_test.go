package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/gogotex/sessionguard/internal/models"
)

func TestMongoUserRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("get by email", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "01U"},
			{Key: "email", Value: "a@example.com"},
			{Key: "passwordHash", Value: "$2a$04$x"},
			{Key: "createdAt", Value: time.Now().UTC()},
		}))
		u, err := repo.GetByEmail(ctx, "A@example.com")
		require.NoError(mt, err)
		require.Equal(mt, "01U", u.ID)
		require.Equal(mt, "$2a$04$x", u.PasswordHash)
	})

	mt.Run("missing user", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		u, err := repo.GetByEmail(ctx, "x@example.com")
		require.NoError(mt, err)
		require.Nil(mt, u)
	})

	mt.Run("duplicate email", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))
		err := repo.Create(ctx, &models.User{ID: "01U", Email: "a@example.com"})
		require.ErrorIs(mt, err, ErrEmailTaken)
	})
}
