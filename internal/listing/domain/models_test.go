package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/foodshare/internal/listing/domain"
)

func TestBookedDecrementsUntilSoldOut(t *testing.T) {
	at := time.Unix(100, 0).UTC()
	l := domain.Listing{ID: "a", Quantity: 2, Available: true, Status: domain.StatusActive, Version: 1}

	next, err := l.Booked(at)
	require.NoError(t, err)
	require.Equal(t, 1, next.Quantity)
	require.True(t, next.Available)
	require.Equal(t, domain.StatusActive, next.Status)
	require.Equal(t, int64(2), next.Version)
	require.Equal(t, at, *next.LastBookedAt)
	require.Equal(t, 2, l.Quantity, "receiver must not change")

	last, err := next.Booked(at)
	require.NoError(t, err)
	require.Zero(t, last.Quantity)
	require.False(t, last.Available)
	require.Equal(t, domain.StatusSoldOut, last.Status)

	_, err = last.Booked(at)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilterValidate(t *testing.T) {
	km := 5.0
	origin := domain.GeoPoint{Lat: 12.9, Lng: 77.6}
	bad := domain.GeoPoint{Lat: 91, Lng: 0}
	neg := -1.0

	cases := []struct {
		name   string
		filter domain.Filter
		want   error
	}{
		{"price only", domain.Filter{MaxPrice: 10}, nil},
		{"radius", domain.Filter{MaxPrice: 10, MaxDistanceKM: &km, Origin: &origin}, nil},
		{"negative price", domain.Filter{MaxPrice: -1}, domain.ErrInvalidArgument},
		{"distance without origin", domain.Filter{MaxPrice: 10, MaxDistanceKM: &km}, domain.ErrInvalidArgument},
		{"origin without distance", domain.Filter{MaxPrice: 10, Origin: &origin}, domain.ErrInvalidArgument},
		{"negative distance", domain.Filter{MaxPrice: 10, MaxDistanceKM: &neg, Origin: &origin}, domain.ErrInvalidArgument},
		{"origin out of range", domain.Filter{MaxPrice: 10, MaxDistanceKM: &km, Origin: &bad}, domain.ErrInvalidCoordinate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.filter.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestNameKey(t *testing.T) {
	require.Equal(t, "taj hotel", domain.NameKey("  Taj HOTEL "))
}
