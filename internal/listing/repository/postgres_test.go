package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/repository"
)

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container test")
	}
	ctx := context.Background()
	db := startPostgres(t, ctx)
	repo := repository.NewPostgresRepository(db, "listing.events")
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "migrations must be re-runnable")

	runStoreSuite(t, func(t *testing.T) domain.Store {
		_, err := db.ExecContext(ctx, `TRUNCATE listings`)
		require.NoError(t, err)
		return repo
	})

	reset := func(t *testing.T) {
		_, err := db.ExecContext(ctx, `TRUNCATE listings, outbox`)
		require.NoError(t, err)
	}
	newListing := func() domain.Listing {
		return domain.Listing{
			HotelName: "Taj Hotel", FoodName: "pasta", Price: 8, Quantity: 1,
			Location: domain.GeoPoint{Lat: 12.9, Lng: 77.6}, LocationText: "12.9,77.6",
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	t.Run("events commit with the listing", func(t *testing.T) {
		reset(t)
		created, err := repo.InsertWithEvents(ctx, newListing(), domain.Event{Type: domain.EventListingPublished})
		require.NoError(t, err)
		next, err := created.Booked(time.Now())
		require.NoError(t, err)
		require.NoError(t, repo.CompareAndSwapWithEvents(ctx, created, next,
			domain.Event{ListingID: created.ID, Type: domain.EventListingReserved},
			domain.Event{ListingID: created.ID, Type: domain.EventListingSoldOut}))

		events := outboxEvents(t, db)
		require.Len(t, events, 3)
		for _, e := range events {
			require.Equal(t, created.ID, e.ListingID)
		}
		require.Equal(t, domain.EventListingSoldOut, events[2].Type)

		// A lost swap writes no event.
		err = repo.CompareAndSwapWithEvents(ctx, created, next, domain.Event{Type: domain.EventListingReserved})
		require.ErrorIs(t, err, domain.ErrConflict)
		require.Len(t, outboxEvents(t, db), 3)
	})

	t.Run("outbox failure rolls back the listing write", func(t *testing.T) {
		reset(t)
		created, err := repo.Insert(ctx, newListing())
		require.NoError(t, err)

		_, err = db.ExecContext(ctx, `ALTER TABLE outbox ADD CONSTRAINT reject_all CHECK (false) NOT VALID`)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = db.ExecContext(ctx, `ALTER TABLE outbox DROP CONSTRAINT IF EXISTS reject_all`)
		})

		_, err = repo.InsertWithEvents(ctx, newListing(), domain.Event{Type: domain.EventListingPublished})
		require.ErrorIs(t, err, domain.ErrStorageUnavailable)

		next, err := created.Booked(time.Now())
		require.NoError(t, err)
		err = repo.CompareAndSwapWithEvents(ctx, created, next, domain.Event{Type: domain.EventListingReserved})
		require.ErrorIs(t, err, domain.ErrStorageUnavailable)

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, 1, all[0].Quantity)
		require.Equal(t, created.Version, all[0].Version)
	})
}

func outboxEvents(t *testing.T, db *sql.DB) []domain.Event {
	t.Helper()
	rows, err := db.Query(`SELECT topic, payload FROM outbox ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var (
			topic   string
			payload []byte
			event   domain.Event
		)
		require.NoError(t, rows.Scan(&topic, &payload))
		require.Equal(t, "listing.events", topic)
		require.NoError(t, json.Unmarshal(payload, &event))
		events = append(events, event)
	}
	require.NoError(t, rows.Err())
	return events
}

func startPostgres(t *testing.T, ctx context.Context) *sql.DB {
	pg, err := postgrescontainer.Run(ctx, "postgres:16",
		postgrescontainer.WithDatabase("foodshare"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}
