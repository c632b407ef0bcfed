package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	mongocontainer "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/repository"
)

func TestMongoRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("mongodb container test")
	}
	ctx := context.Background()
	db := startMongo(t, ctx)
	repo := repository.NewMongoRepository(db, "food_items")
	require.NoError(t, repo.EnsureIndexes(ctx))

	runStoreSuite(t, func(t *testing.T) domain.Store {
		_, err := db.Collection("food_items").DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
		return repo
	})
}

func startMongo(t *testing.T, ctx context.Context) *mongo.Database {
	container, err := mongocontainer.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})
	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("food_waste_db")
}
