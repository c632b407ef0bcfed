package geo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/geo"
)

func TestDistanceProperties(t *testing.T) {
	points := []domain.GeoPoint{
		{Lat: 12.9, Lng: 77.6},
		{Lat: 12.95, Lng: 77.62},
		{Lat: -33.86, Lng: 151.2},
		{Lat: 89.9, Lng: -179.9},
		{Lat: 0, Lng: 0},
	}
	for _, a := range points {
		d, err := geo.Distance(a, a)
		require.NoError(t, err)
		require.InDelta(t, 0, d, 1e-9)
		for _, b := range points {
			ab, err := geo.Distance(a, b)
			require.NoError(t, err)
			ba, err := geo.Distance(b, a)
			require.NoError(t, err)
			require.InDelta(t, ab, ba, 1e-9)
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude on a 6371 km sphere.
	d, err := geo.Distance(domain.GeoPoint{Lat: 0, Lng: 0}, domain.GeoPoint{Lat: 1, Lng: 0})
	require.NoError(t, err)
	require.InDelta(t, 111.195, d, 0.01)
}

func TestDistanceRejectsOutOfRange(t *testing.T) {
	_, err := geo.Distance(domain.GeoPoint{Lat: 90.5}, domain.GeoPoint{})
	require.ErrorIs(t, err, domain.ErrInvalidCoordinate)
	_, err = geo.Distance(domain.GeoPoint{}, domain.GeoPoint{Lng: -181})
	require.ErrorIs(t, err, domain.ErrInvalidCoordinate)
}

func TestParseCoordinate(t *testing.T) {
	p, err := geo.ParseCoordinate(" 12.9, 77.6 ")
	require.NoError(t, err)
	require.Equal(t, domain.GeoPoint{Lat: 12.9, Lng: 77.6}, p)

	for _, in := range []string{"", "12.9", "a,b", "1,2,3", "error - coordinates not found"} {
		_, err := geo.ParseCoordinate(in)
		require.ErrorIs(t, err, domain.ErrInvalidLocation, in)
	}
	_, err = geo.ParseCoordinate("95,10")
	require.ErrorIs(t, err, domain.ErrInvalidCoordinate)
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	origin := domain.GeoPoint{Lat: 12.9, Lng: 77.6}
	box := geo.BoundingBox(origin, 5)
	require.False(t, box.WrapsLng)
	require.Less(t, box.MinLat, origin.Lat)
	require.Greater(t, box.MaxLat, origin.Lat)

	north := domain.GeoPoint{Lat: 12.9 + 4.9/111.195, Lng: 77.6}
	d, err := geo.Distance(origin, north)
	require.NoError(t, err)
	require.Less(t, d, 5.0)
	require.LessOrEqual(t, north.Lat, box.MaxLat)

	polar := geo.BoundingBox(domain.GeoPoint{Lat: 89.99, Lng: 0}, 50)
	require.True(t, polar.WrapsLng)
}
