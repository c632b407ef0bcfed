package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusSoldOut Status = "sold_out"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidLocation    = errors.New("invalid location")
	ErrInvalidCoordinate  = errors.New("invalid coordinate")
	ErrNotFound           = errors.New("listing not available - already booked or never existed")
	ErrConflict           = errors.New("listing modified concurrently")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports ErrInvalidCoordinate for values outside the WGS84 ranges.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: (%g, %g)", ErrInvalidCoordinate, p.Lat, p.Lng)
	}
	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%g,%g", p.Lat, p.Lng)
}

// Listing is one food offer published by a hotel.
type Listing struct {
	ID           string     `json:"id"`
	HotelName    string     `json:"hotel_name"`
	FoodName     string     `json:"food_name"`
	Price        float64    `json:"price"`
	Quantity     int        `json:"quantity"`
	Location     GeoPoint   `json:"location"`
	LocationText string     `json:"hotel_location"`
	Available    bool       `json:"is_available"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastBookedAt *time.Time `json:"last_booked_at,omitempty"`
	Version      int64      `json:"version"`
	// Seq is the store-assigned insertion order used to break ordering ties.
	Seq int64 `json:"-"`
}

// Booked returns the listing after one unit is consumed at the given time.
// The receiver is not modified; the caller persists the result with a
// compare-and-swap against the receiver's version.
func (l Listing) Booked(at time.Time) (Listing, error) {
	if !l.Available || l.Status == StatusSoldOut || l.Quantity <= 0 {
		return Listing{}, ErrNotFound
	}
	next := l
	next.Quantity = l.Quantity - 1
	if next.Quantity <= 0 {
		next.Quantity = 0
		next.Available = false
		next.Status = StatusSoldOut
	}
	booked := at
	next.LastBookedAt = &booked
	next.Version = l.Version + 1
	return next, nil
}

// Match is a search hit. DistanceKM is set only for radius queries.
type Match struct {
	Listing
	DistanceKM *float64 `json:"distance_km,omitempty"`
}

// Filter selects available listings for a search.
type Filter struct {
	MaxPrice      float64
	FoodName      string
	MaxDistanceKM *float64
	Origin        *GeoPoint
}

// Radius reports whether the filter restricts by distance.
func (f Filter) Radius() bool {
	return f.MaxDistanceKM != nil && f.Origin != nil
}

func (f Filter) Validate() error {
	if math.IsNaN(f.MaxPrice) || f.MaxPrice < 0 {
		return fmt.Errorf("%w: max price must be non-negative", ErrInvalidArgument)
	}
	if (f.MaxDistanceKM == nil) != (f.Origin == nil) {
		return fmt.Errorf("%w: max distance and origin must be given together", ErrInvalidArgument)
	}
	if f.MaxDistanceKM != nil && (math.IsNaN(*f.MaxDistanceKM) || *f.MaxDistanceKM < 0) {
		return fmt.Errorf("%w: max distance must be non-negative", ErrInvalidArgument)
	}
	if f.Origin != nil {
		return f.Origin.Validate()
	}
	return nil
}

// Reservation is returned by a successful booking.
type Reservation struct {
	ListingID string    `json:"listing_id"`
	HotelName string    `json:"hotel_name"`
	FoodName  string    `json:"food_name"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	SoldOut   bool      `json:"sold_out"`
	BookedAt  time.Time `json:"booked_at"`
}

// NameKey is the comparison key used for hotel and food names.
func NameKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Store owns all listing records.
type Store interface {
	Insert(ctx context.Context, listing Listing) (Listing, error)
	Query(ctx context.Context, filter Filter) ([]Match, error)
	// FindReservable returns the most recently created available listing
	// whose hotel and food names match case-insensitively.
	FindReservable(ctx context.Context, hotelName, foodName string) (Listing, error)
	// CompareAndSwap replaces prev with next only if the stored version still
	// equals prev.Version, otherwise it returns ErrConflict.
	CompareAndSwap(ctx context.Context, prev, next Listing) error
	ListAll(ctx context.Context) ([]Listing, error)
}

// OutboxStore is a Store that records events in the same transaction as the
// listing write, so an event exists exactly when its write committed. Events
// with an empty ListingID take the ID of the inserted listing.
type OutboxStore interface {
	Store
	InsertWithEvents(ctx context.Context, listing Listing, events ...Event) (Listing, error)
	CompareAndSwapWithEvents(ctx context.Context, prev, next Listing, events ...Event) error
}

// IdempotencyRepository deduplicates publish calls. Claim reserves a key for
// exactly one caller; while the claim is pending GetResponse reports no
// response. The holder then stores its response or releases the key.
type IdempotencyRepository interface {
	Claim(ctx context.Context, key string) (bool, error)
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
	Release(ctx context.Context, key string) error
}

type EventType string

const (
	EventListingPublished EventType = "ListingPublished"
	EventListingReserved  EventType = "ListingReserved"
	EventListingSoldOut   EventType = "ListingSoldOut"
)

type Event struct {
	ListingID string         `json:"listing_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
