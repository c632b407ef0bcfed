package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/foodshare/internal/listing/domain"
)

// MemoryRepository keeps listings in process memory. The map lock only
// guards membership; each record carries its own mutex so bookings on
// different listings never serialize behind one another.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	order   []*memoryRecord
	seq     int64
}

type memoryRecord struct {
	mu      sync.Mutex
	listing domain.Listing
	hotel   string
	food    string
}

func (r *memoryRecord) snapshot() domain.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyListing(r.listing)
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*memoryRecord)}
}

// Insert stores the listing and assigns its insertion sequence.
func (m *MemoryRepository) Insert(_ context.Context, listing domain.Listing) (domain.Listing, error) {
	listing, err := prepareInsert(listing)
	if err != nil {
		return domain.Listing{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[listing.ID]; exists {
		return domain.Listing{}, fmt.Errorf("%w: duplicate listing id %s", domain.ErrInvalidArgument, listing.ID)
	}
	m.seq++
	listing.Seq = m.seq
	rec := &memoryRecord{
		listing: copyListing(listing),
		hotel:   domain.NameKey(listing.HotelName),
		food:    domain.NameKey(listing.FoodName),
	}
	m.records[listing.ID] = rec
	m.order = append(m.order, rec)
	return copyListing(listing), nil
}

// Query returns available listings matching the filter, ordered by distance
// for radius queries and by price otherwise. Ties keep insertion order.
func (m *MemoryRepository) Query(_ context.Context, filter domain.Filter) ([]domain.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	needle := domain.NameKey(filter.FoodName)

	m.mu.RLock()
	records := append([]*memoryRecord(nil), m.order...)
	m.mu.RUnlock()

	var listings []domain.Listing
	for _, rec := range records {
		if needle != "" && !strings.Contains(rec.food, needle) {
			continue
		}
		l := rec.snapshot()
		if !l.Available || l.Price > filter.MaxPrice {
			continue
		}
		listings = append(listings, l)
	}
	return applyRadius(listings, filter)
}

// FindReservable picks the most recently created available listing for the pair.
func (m *MemoryRepository) FindReservable(_ context.Context, hotelName, foodName string) (domain.Listing, error) {
	hotel, food := domain.NameKey(hotelName), domain.NameKey(foodName)

	m.mu.RLock()
	records := append([]*memoryRecord(nil), m.order...)
	m.mu.RUnlock()

	var best *domain.Listing
	for _, rec := range records {
		if rec.hotel != hotel || rec.food != food {
			continue
		}
		l := rec.snapshot()
		if !l.Available {
			continue
		}
		if best == nil || newerThan(l, *best) {
			candidate := l
			best = &candidate
		}
	}
	if best == nil {
		return domain.Listing{}, domain.ErrNotFound
	}
	return *best, nil
}

// CompareAndSwap applies next when the stored version still matches prev.
func (m *MemoryRepository) CompareAndSwap(_ context.Context, prev, next domain.Listing) error {
	m.mu.RLock()
	rec, ok := m.records[prev.ID]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.listing.Version != prev.Version {
		return domain.ErrConflict
	}
	next.ID = rec.listing.ID
	next.Seq = rec.listing.Seq
	next.CreatedAt = rec.listing.CreatedAt
	rec.listing = copyListing(next)
	return nil
}

// ListAll returns every stored listing in insertion order.
func (m *MemoryRepository) ListAll(_ context.Context) ([]domain.Listing, error) {
	m.mu.RLock()
	records := append([]*memoryRecord(nil), m.order...)
	m.mu.RUnlock()

	out := make([]domain.Listing, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.snapshot())
	}
	return out, nil
}

// SortMatches orders matches by distance (radius) or price, keeping
// insertion order for ties.
func SortMatches(matches []domain.Match, byDistance bool) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if byDistance && a.DistanceKM != nil && b.DistanceKM != nil && *a.DistanceKM != *b.DistanceKM {
			return *a.DistanceKM < *b.DistanceKM
		}
		if !byDistance && a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.Seq < b.Seq
	})
}

// prepareInsert applies the state every new listing starts in.
func prepareInsert(l domain.Listing) (domain.Listing, error) {
	if l.Quantity <= 0 || l.Price < 0 || math.IsNaN(l.Price) {
		return domain.Listing{}, fmt.Errorf("%w: listing needs quantity > 0 and price >= 0", domain.ErrInvalidArgument)
	}
	if err := l.Location.Validate(); err != nil {
		return domain.Listing{}, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.LocationText == "" {
		l.LocationText = l.Location.String()
	}
	l.Available = true
	l.Status = domain.StatusActive
	l.LastBookedAt = nil
	l.Version = 1
	return l, nil
}

func newerThan(a, b domain.Listing) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

func copyListing(l domain.Listing) domain.Listing {
	if l.LastBookedAt != nil {
		t := *l.LastBookedAt
		l.LastBookedAt = &t
	}
	return l
}
