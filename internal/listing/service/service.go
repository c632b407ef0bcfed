package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/geo"
)

// Service is the reservation engine: it validates caller arguments and
// composes store operations into publish, search, reserve and inventory.
type Service struct {
	store      domain.Store
	outbox     domain.OutboxStore
	events     domain.EventPublisher
	clock      domain.Clock
	idempotent domain.IdempotencyRepository
	logger     *zap.Logger
	tracer     trace.Tracer
}

// claimPoll and claimWait bound how long a publish waits for another caller
// holding the same idempotency key.
const (
	claimPoll = 25 * time.Millisecond
	claimWait = 2 * time.Second
)

// New constructs a Service with the required collaborators. events and idem
// may be nil. When store is a domain.OutboxStore, events are written with the
// listing change and events is not used.
func New(store domain.Store, events domain.EventPublisher, clock domain.Clock, idem domain.IdempotencyRepository, logger *zap.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	outbox, _ := store.(domain.OutboxStore)
	if outbox != nil {
		events = nil
	}
	return &Service{
		store:      store,
		outbox:     outbox,
		events:     events,
		clock:      clock,
		idempotent: idem,
		logger:     logger,
		tracer:     otel.Tracer("listing.service"),
	}
}

// PublishRequest carries the arguments of a new listing. Location is "latitude,longitude".
type PublishRequest struct {
	HotelName string  `json:"hotel_name"`
	FoodName  string  `json:"food_name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Location  string  `json:"location"`
}

// PublishResponse confirms a stored listing.
type PublishResponse struct {
	ID        string          `json:"id"`
	HotelName string          `json:"hotel_name"`
	FoodName  string          `json:"food_name"`
	Price     float64         `json:"price"`
	Quantity  int             `json:"quantity"`
	Location  domain.GeoPoint `json:"location"`
	CreatedAt time.Time       `json:"created_at"`
}

// Publish validates and stores a listing. A non-empty key makes the call
// idempotent: repeating it returns the first response without a new insert.
func (s *Service) Publish(ctx context.Context, key string, req PublishRequest) (PublishResponse, error) {
	ctx, span := s.tracer.Start(ctx, "listing.publish")
	defer span.End()

	hotel, food := strings.TrimSpace(req.HotelName), strings.TrimSpace(req.FoodName)
	if hotel == "" || food == "" {
		return PublishResponse{}, fail(span, fmt.Errorf("%w: hotel and food names are required", domain.ErrInvalidArgument))
	}
	if math.IsNaN(req.Price) || math.IsInf(req.Price, 0) || req.Price < 0 {
		return PublishResponse{}, fail(span, fmt.Errorf("%w: price must be a non-negative number", domain.ErrInvalidArgument))
	}
	if req.Quantity <= 0 {
		return PublishResponse{}, fail(span, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidArgument))
	}
	point, err := geo.ParseCoordinate(req.Location)
	if err != nil {
		return PublishResponse{}, fail(span, err)
	}

	if key != "" && s.idempotent != nil {
		cached, replay, err := s.claimKey(ctx, key)
		if err != nil {
			return PublishResponse{}, fail(span, err)
		}
		if replay {
			return cached, nil
		}
	}

	created, err := s.insert(ctx, domain.Listing{
		HotelName:    hotel,
		FoodName:     food,
		Price:        req.Price,
		Quantity:     req.Quantity,
		Location:     point,
		LocationText: strings.TrimSpace(req.Location),
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		if key != "" && s.idempotent != nil {
			if rerr := s.idempotent.Release(context.WithoutCancel(ctx), key); rerr != nil {
				s.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(rerr))
			}
		}
		return PublishResponse{}, fail(span, fmt.Errorf("publish listing: %w", err))
	}
	publishedTotal.Inc()
	span.SetAttributes(attribute.String("listing.id", created.ID))
	s.logger.Info("listing published",
		zap.String("listing_id", created.ID),
		zap.String("hotel", created.HotelName),
		zap.String("food", created.FoodName),
		zap.Float64("price", created.Price),
		zap.Int("quantity", created.Quantity))

	resp := PublishResponse{
		ID:        created.ID,
		HotelName: created.HotelName,
		FoodName:  created.FoodName,
		Price:     created.Price,
		Quantity:  created.Quantity,
		Location:  created.Location,
		CreatedAt: created.CreatedAt,
	}
	if key != "" && s.idempotent != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := s.idempotent.PutResponse(ctx, key, payload); err != nil {
				s.logger.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return resp, nil
}

// claimKey replays the stored response for key, or claims key for this call.
// A key held by an unfinished call is polled until claimWait elapses.
func (s *Service) claimKey(ctx context.Context, key string) (PublishResponse, bool, error) {
	deadline := time.Now().Add(claimWait)
	for {
		cached, ok, err := s.idempotent.GetResponse(ctx, key)
		if err != nil {
			return PublishResponse{}, false, err
		}
		if ok {
			var resp PublishResponse
			if err := json.Unmarshal(cached, &resp); err != nil {
				return PublishResponse{}, false, fmt.Errorf("decode cached response: %w", err)
			}
			return resp, true, nil
		}
		claimed, err := s.idempotent.Claim(ctx, key)
		if err != nil {
			return PublishResponse{}, false, err
		}
		if claimed {
			return PublishResponse{}, false, nil
		}
		if time.Now().After(deadline) {
			return PublishResponse{}, false, fmt.Errorf("%w: publish with idempotency key %q still in progress", domain.ErrConflict, key)
		}
		select {
		case <-ctx.Done():
			return PublishResponse{}, false, ctx.Err()
		case <-time.After(claimPoll):
		}
	}
}

// insert stores a listing together with its ListingPublished event.
func (s *Service) insert(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	event := domain.Event{
		Type: domain.EventListingPublished,
		Payload: map[string]any{
			"hotel_name": l.HotelName,
			"food_name":  l.FoodName,
			"price":      l.Price,
			"quantity":   l.Quantity,
		},
	}
	if s.outbox != nil {
		event.CreatedAt = s.clock.Now()
		return s.outbox.InsertWithEvents(ctx, l, event)
	}
	created, err := s.store.Insert(ctx, l)
	if err != nil {
		return domain.Listing{}, err
	}
	event.ListingID = created.ID
	s.publish(ctx, event)
	return created, nil
}

// swap applies a booking together with its ListingReserved and, when the
// last unit goes, ListingSoldOut events.
func (s *Service) swap(ctx context.Context, prev, next domain.Listing) error {
	events := []domain.Event{{
		ListingID: prev.ID,
		Type:      domain.EventListingReserved,
		Payload:   map[string]any{"price": prev.Price, "quantity": next.Quantity},
	}}
	if !next.Available {
		events = append(events, domain.Event{ListingID: prev.ID, Type: domain.EventListingSoldOut})
	}
	if s.outbox != nil {
		now := s.clock.Now()
		for i := range events {
			events[i].CreatedAt = now
		}
		return s.outbox.CompareAndSwapWithEvents(ctx, prev, next, events...)
	}
	if err := s.store.CompareAndSwap(ctx, prev, next); err != nil {
		return err
	}
	for _, e := range events {
		s.publish(ctx, e)
	}
	return nil
}

// Search returns available listings within budget, nearest first when a
// radius is given and cheapest first otherwise.
func (s *Service) Search(ctx context.Context, filter domain.Filter) ([]domain.Match, error) {
	ctx, span := s.tracer.Start(ctx, "listing.search")
	defer span.End()

	mode := "price"
	if filter.Radius() {
		mode = "distance"
	}
	span.SetAttributes(attribute.String("search.mode", mode))
	if err := filter.Validate(); err != nil {
		return nil, fail(span, err)
	}

	start := time.Now()
	matches, err := s.store.Query(ctx, filter)
	searchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fail(span, fmt.Errorf("search listings: %w", err))
	}
	span.SetAttributes(attribute.Int("search.results", len(matches)))
	return matches, nil
}

// Reserve books one unit of the most recently published available listing
// matching hotel and food. A concurrent booking of the same listing yields
// ErrConflict; callers may retry, and a sold-out listing then yields ErrNotFound.
func (s *Service) Reserve(ctx context.Context, hotelName, foodName string) (domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "listing.reserve")
	defer span.End()

	if strings.TrimSpace(hotelName) == "" || strings.TrimSpace(foodName) == "" {
		reservationAttempts.WithLabelValues("invalid").Inc()
		return domain.Reservation{}, fail(span, fmt.Errorf("%w: hotel and food names are required", domain.ErrInvalidArgument))
	}

	current, err := s.store.FindReservable(ctx, hotelName, foodName)
	if err != nil {
		return domain.Reservation{}, s.reserveFailed(span, hotelName, foodName, err)
	}
	next, err := current.Booked(s.clock.Now())
	if err != nil {
		return domain.Reservation{}, s.reserveFailed(span, hotelName, foodName, err)
	}
	if err := s.swap(ctx, current, next); err != nil {
		return domain.Reservation{}, s.reserveFailed(span, hotelName, foodName, err)
	}

	reservationAttempts.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.String("listing.id", current.ID), attribute.Int("listing.quantity", next.Quantity))
	s.logger.Info("listing reserved",
		zap.String("listing_id", current.ID),
		zap.Int("remaining", next.Quantity),
		zap.Bool("sold_out", !next.Available))

	return domain.Reservation{
		ListingID: current.ID,
		HotelName: current.HotelName,
		FoodName:  current.FoodName,
		Price:     current.Price,
		Quantity:  next.Quantity,
		SoldOut:   !next.Available,
		BookedAt:  *next.LastBookedAt,
	}, nil
}

func (s *Service) reserveFailed(span trace.Span, hotel, food string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		result = "not_found"
	case errors.Is(err, domain.ErrConflict):
		result = "conflict"
	}
	reservationAttempts.WithLabelValues(result).Inc()
	if result == "error" {
		s.logger.Error("reservation failed", zap.String("hotel", hotel), zap.String("food", food), zap.Error(err))
	} else {
		s.logger.Info("reservation rejected", zap.String("hotel", hotel), zap.String("food", food), zap.String("result", result))
	}
	return fail(span, err)
}

// Inventory is a full snapshot of the store.
type Inventory struct {
	Listings []domain.Listing `json:"listings"`
	Active   int              `json:"active"`
}

// Inventory returns every listing, including sold-out ones.
func (s *Service) Inventory(ctx context.Context) (Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "listing.inventory")
	defer span.End()

	listings, err := s.store.ListAll(ctx)
	if err != nil {
		return Inventory{}, fail(span, fmt.Errorf("list listings: %w", err))
	}
	inv := Inventory{Listings: listings}
	if inv.Listings == nil {
		inv.Listings = []domain.Listing{}
	}
	for _, l := range listings {
		if l.Available {
			inv.Active++
		}
	}
	return inv, nil
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	event.CreatedAt = s.clock.Now()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("listing_id", event.ListingID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
