package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/foodshare/internal/listing/domain"
)

// EarthRadiusKM is the mean radius of the spherical Earth model.
const EarthRadiusKM = 6371.0

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b domain.GeoPoint) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

func haversine(a, b domain.GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return EarthRadiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// ParseCoordinate parses "latitude,longitude" in decimal degrees.
func ParseCoordinate(s string) (domain.GeoPoint, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return domain.GeoPoint{}, fmt.Errorf("%w: %q, want \"latitude,longitude\"", domain.ErrInvalidLocation, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("%w: latitude %q", domain.ErrInvalidLocation, parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("%w: longitude %q", domain.ErrInvalidLocation, parts[1])
	}
	p := domain.GeoPoint{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return domain.GeoPoint{}, err
	}
	return p, nil
}

// Box is a latitude/longitude rectangle enclosing a radius around a point.
// WrapsLng is set when the rectangle cannot be expressed as a single
// longitude interval, in which case callers should not filter on longitude.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	WrapsLng       bool
}

// BoundingBox returns a conservative rectangle containing every point within
// radiusKM of origin. It is a prefilter only; exact distances still apply.
func BoundingBox(origin domain.GeoPoint, radiusKM float64) Box {
	dLat := radiusKM / EarthRadiusKM * 180 / math.Pi
	box := Box{
		MinLat: math.Max(-90, origin.Lat-dLat),
		MaxLat: math.Min(90, origin.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.WrapsLng = true
		return box
	}
	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	dLng := dLat / math.Cos(toRadians(maxAbsLat))
	if dLng >= 180 || origin.Lng-dLng < -180 || origin.Lng+dLng > 180 {
		box.WrapsLng = true
		return box
	}
	box.MinLng = origin.Lng - dLng
	box.MaxLng = origin.Lng + dLng
	return box
}
