package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/foodshare/internal/listing/domain"
)

// storeFactory returns an empty store for one subtest.
type storeFactory func(t *testing.T) domain.Store

var bangalore = domain.GeoPoint{Lat: 12.9716, Lng: 77.5946}

func newListing(hotel, food string, price float64, qty int, at domain.GeoPoint, created time.Time) domain.Listing {
	return domain.Listing{
		HotelName: hotel,
		FoodName:  food,
		Price:     price,
		Quantity:  qty,
		Location:  at,
		CreatedAt: created,
	}
}

func mustInsert(t *testing.T, store domain.Store, l domain.Listing) domain.Listing {
	t.Helper()
	created, err := store.Insert(context.Background(), l)
	require.NoError(t, err)
	return created
}

func ptr[T any](v T) *T { return &v }

func runStoreSuite(t *testing.T, factory storeFactory) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("insert assigns identity and initial state", func(t *testing.T) {
		store := factory(t)
		created := mustInsert(t, store, newListing("Taj Hotel", "pasta", 8, 5, bangalore, base))
		require.NotEmpty(t, created.ID)
		require.True(t, created.Available)
		require.Equal(t, domain.StatusActive, created.Status)
		require.Equal(t, int64(1), created.Version)
		require.Nil(t, created.LastBookedAt)

		all, err := store.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, created.ID, all[0].ID)
		require.Equal(t, "12.9716,77.5946", all[0].LocationText)
	})

	t.Run("price order with insertion tie break", func(t *testing.T) {
		store := factory(t)
		eight := mustInsert(t, store, newListing("A", "curry", 8, 1, bangalore, base))
		fiveFirst := mustInsert(t, store, newListing("B", "rice", 5, 1, bangalore, base.Add(time.Second)))
		fiveSecond := mustInsert(t, store, newListing("C", "dal", 5, 1, bangalore, base.Add(2*time.Second)))
		mustInsert(t, store, newListing("D", "steak", 12, 1, bangalore, base.Add(3*time.Second)))

		got, err := store.Query(ctx, domain.Filter{MaxPrice: 10})
		require.NoError(t, err)
		require.Equal(t, []string{fiveFirst.ID, fiveSecond.ID, eight.ID}, matchIDs(got))
		for _, m := range got {
			require.Nil(t, m.DistanceKM)
		}

		again, err := store.Query(ctx, domain.Filter{MaxPrice: 10})
		require.NoError(t, err)
		require.Equal(t, matchIDs(got), matchIDs(again))
	})

	t.Run("max price is inclusive", func(t *testing.T) {
		store := factory(t)
		l := mustInsert(t, store, newListing("Taj Hotel", "pasta", 8, 5, bangalore, base))
		got, err := store.Query(ctx, domain.Filter{MaxPrice: 8})
		require.NoError(t, err)
		require.Equal(t, []string{l.ID}, matchIDs(got))
	})

	t.Run("food substring is case-insensitive and literal", func(t *testing.T) {
		store := factory(t)
		pizza := mustInsert(t, store, newListing("A", "Veg PIZZA (large)", 4, 1, bangalore, base))
		mustInsert(t, store, newListing("B", "pasta", 4, 1, bangalore, base.Add(time.Second)))
		mustInsert(t, store, newListing("C", "pizzaaa.*", 4, 1, bangalore, base.Add(2*time.Second)))

		got, err := store.Query(ctx, domain.Filter{MaxPrice: 10, FoodName: "pizza ("})
		require.NoError(t, err)
		require.Equal(t, []string{pizza.ID}, matchIDs(got))

		got, err = store.Query(ctx, domain.Filter{MaxPrice: 10, FoodName: "a.*"})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("radius query filters and orders by distance", func(t *testing.T) {
		store := factory(t)
		origin := domain.GeoPoint{Lat: 12.9, Lng: 77.6}
		far := mustInsert(t, store, newListing("Far", "meal", 1, 1, domain.GeoPoint{Lat: 12.93, Lng: 77.6}, base))
		near := mustInsert(t, store, newListing("Near", "meal", 9, 1, domain.GeoPoint{Lat: 12.905, Lng: 77.6}, base.Add(time.Second)))
		mustInsert(t, store, newListing("Out", "meal", 1, 1, domain.GeoPoint{Lat: 13.0, Lng: 77.6}, base.Add(2*time.Second)))

		got, err := store.Query(ctx, domain.Filter{MaxPrice: 10, MaxDistanceKM: ptr(5.0), Origin: &origin})
		require.NoError(t, err)
		require.Equal(t, []string{near.ID, far.ID}, matchIDs(got))
		require.NotNil(t, got[0].DistanceKM)
		require.InDelta(t, 0.556, *got[0].DistanceKM, 0.01)
		require.InDelta(t, 3.336, *got[1].DistanceKM, 0.01)
	})

	t.Run("query rejects half radius filters", func(t *testing.T) {
		store := factory(t)
		_, err := store.Query(ctx, domain.Filter{MaxPrice: 10, MaxDistanceKM: ptr(3.0)})
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
		_, err = store.Query(ctx, domain.Filter{MaxPrice: 10, Origin: &bangalore})
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("find reservable prefers most recent", func(t *testing.T) {
		store := factory(t)
		mustInsert(t, store, newListing("Taj Hotel", "pasta", 8, 5, bangalore, base))
		newer := mustInsert(t, store, newListing("taj hotel", "PASTA", 6, 2, bangalore, base.Add(time.Minute)))

		got, err := store.FindReservable(ctx, " TAJ HOTEL ", "Pasta")
		require.NoError(t, err)
		require.Equal(t, newer.ID, got.ID)

		_, err = store.FindReservable(ctx, "Taj", "pasta")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("compare and swap detects stale versions", func(t *testing.T) {
		store := factory(t)
		l := mustInsert(t, store, newListing("Taj Hotel", "pasta", 8, 2, bangalore, base))

		next, err := l.Booked(base.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, store.CompareAndSwap(ctx, l, next))
		require.ErrorIs(t, store.CompareAndSwap(ctx, l, next), domain.ErrConflict)

		last, err := next.Booked(base.Add(2 * time.Minute))
		require.NoError(t, err)
		require.NoError(t, store.CompareAndSwap(ctx, next, last))

		_, err = store.FindReservable(ctx, "Taj Hotel", "pasta")
		require.ErrorIs(t, err, domain.ErrNotFound)

		all, err := store.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Zero(t, all[0].Quantity)
		require.False(t, all[0].Available)
		require.Equal(t, domain.StatusSoldOut, all[0].Status)
		require.NotNil(t, all[0].LastBookedAt)

		got, err := store.Query(ctx, domain.Filter{MaxPrice: 100})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("concurrent swaps consume the last unit once", func(t *testing.T) {
		store := factory(t)
		mustInsert(t, store, newListing("Taj Hotel", "pasta", 8, 1, bangalore, base))

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				current, err := store.FindReservable(ctx, "Taj Hotel", "pasta")
				if err != nil {
					require.True(t, errors.Is(err, domain.ErrNotFound))
					return
				}
				next, err := current.Booked(time.Now().UTC())
				require.NoError(t, err)
				err = store.CompareAndSwap(ctx, current, next)
				if err != nil {
					require.True(t, errors.Is(err, domain.ErrConflict))
					return
				}
				mu.Lock()
				successes++
				mu.Unlock()
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, 1, successes)
	})
}

func matchIDs(matches []domain.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return ids
}
