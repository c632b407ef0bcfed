package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/geo"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id             TEXT PRIMARY KEY,
	seq            BIGSERIAL NOT NULL,
	hotel_name     TEXT NOT NULL,
	hotel_key      TEXT NOT NULL,
	food_name      TEXT NOT NULL,
	food_key       TEXT NOT NULL,
	price          DOUBLE PRECISION NOT NULL CHECK (price >= 0),
	quantity       INTEGER NOT NULL CHECK (quantity >= 0),
	lat            DOUBLE PRECISION NOT NULL,
	lng            DOUBLE PRECISION NOT NULL,
	hotel_location TEXT NOT NULL,
	is_available   BOOLEAN NOT NULL,
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	last_booked_at TIMESTAMPTZ,
	version        BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS listings_hotel_key_idx ON listings (hotel_key);
CREATE INDEX IF NOT EXISTS listings_price_idx ON listings (price);
CREATE INDEX IF NOT EXISTS listings_food_key_idx ON listings (food_key);
CREATE INDEX IF NOT EXISTS listings_is_available_idx ON listings (is_available);
CREATE INDEX IF NOT EXISTS listings_created_at_idx ON listings (created_at);
CREATE INDEX IF NOT EXISTS listings_lat_lng_idx ON listings (lat, lng);
CREATE TABLE IF NOT EXISTS outbox (
	id         BIGSERIAL PRIMARY KEY,
	topic      TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	published  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE published = false;
`

const listingColumns = `id, seq, hotel_name, food_name, price, quantity, lat, lng, hotel_location, is_available, status, created_at, last_booked_at, version`

const defaultOutboxTopic = "listing.events"

// PostgresRepository stores listings in PostgreSQL. Bookings use a
// version-guarded UPDATE so only the row being booked is contended.
// Events passed to the *WithEvents methods land in the outbox table in the
// same transaction, tagged with outboxTopic.
type PostgresRepository struct {
	db          *sql.DB
	outboxTopic string
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewPostgresRepository wraps an open database handle. outboxTopic defaults
// to "listing.events".
func NewPostgresRepository(db *sql.DB, outboxTopic string) *PostgresRepository {
	if outboxTopic == "" {
		outboxTopic = defaultOutboxTopic
	}
	return &PostgresRepository{db: db, outboxTopic: outboxTopic}
}

// Migrate creates the listings and outbox tables with their indices.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, postgresSchema); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// Insert stores a new listing.
func (r *PostgresRepository) Insert(ctx context.Context, listing domain.Listing) (domain.Listing, error) {
	return insertListing(ctx, r.db, listing)
}

// InsertWithEvents stores a new listing and its events atomically.
func (r *PostgresRepository) InsertWithEvents(ctx context.Context, listing domain.Listing, events ...domain.Event) (domain.Listing, error) {
	var created domain.Listing
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if created, err = insertListing(ctx, tx, listing); err != nil {
			return err
		}
		return r.appendOutbox(ctx, tx, created.ID, events)
	})
	if err != nil {
		return domain.Listing{}, err
	}
	return created, nil
}

// CompareAndSwapWithEvents applies next and records its events atomically.
// Nothing is written when the swap loses.
func (r *PostgresRepository) CompareAndSwapWithEvents(ctx context.Context, prev, next domain.Listing, events ...domain.Event) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := swapListing(ctx, tx, prev, next); err != nil {
			return err
		}
		return r.appendOutbox(ctx, tx, prev.ID, events)
	})
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit tx", err)
	}
	return nil
}

func (r *PostgresRepository) appendOutbox(ctx context.Context, tx *sql.Tx, listingID string, events []domain.Event) error {
	for _, event := range events {
		if event.ListingID == "" {
			event.ListingID = listingID
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, r.outboxTopic, payload); err != nil {
			return storageErr("insert outbox", err)
		}
	}
	return nil
}

func insertListing(ctx context.Context, q execer, listing domain.Listing) (domain.Listing, error) {
	listing, err := prepareInsert(listing)
	if err != nil {
		return domain.Listing{}, err
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO listings (id, hotel_name, hotel_key, food_name, food_key, price, quantity, lat, lng,
			hotel_location, is_available, status, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq`,
		listing.ID, listing.HotelName, domain.NameKey(listing.HotelName), listing.FoodName, domain.NameKey(listing.FoodName),
		listing.Price, listing.Quantity, listing.Location.Lat, listing.Location.Lng,
		listing.LocationText, listing.Available, string(listing.Status), listing.CreatedAt, listing.Version,
	)
	if err := row.Scan(&listing.Seq); err != nil {
		return domain.Listing{}, storageErr("insert listing", err)
	}
	return listing, nil
}

// Query returns available listings matching the filter.
func (r *PostgresRepository) Query(ctx context.Context, filter domain.Filter) ([]domain.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	where := []string{"is_available", "price <= $1"}
	args := []any{filter.MaxPrice}
	if needle := domain.NameKey(filter.FoodName); needle != "" {
		args = append(args, needle)
		where = append(where, fmt.Sprintf("strpos(food_key, $%d) > 0", len(args)))
	}
	if filter.Radius() {
		box := geo.BoundingBox(*filter.Origin, *filter.MaxDistanceKM)
		args = append(args, box.MinLat, box.MaxLat)
		where = append(where, fmt.Sprintf("lat BETWEEN $%d AND $%d", len(args)-1, len(args)))
		if !box.WrapsLng {
			args = append(args, box.MinLng, box.MaxLng)
			where = append(where, fmt.Sprintf("lng BETWEEN $%d AND $%d", len(args)-1, len(args)))
		}
	}
	query := fmt.Sprintf("SELECT %s FROM listings WHERE %s ORDER BY price, seq", listingColumns, strings.Join(where, " AND "))

	listings, err := r.selectListings(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return applyRadius(listings, filter)
}

// FindReservable picks the most recently created available listing for the pair.
func (r *PostgresRepository) FindReservable(ctx context.Context, hotelName, foodName string) (domain.Listing, error) {
	listings, err := r.selectListings(ctx, fmt.Sprintf(`SELECT %s FROM listings
		WHERE hotel_key = $1 AND food_key = $2 AND is_available
		ORDER BY created_at DESC, seq DESC LIMIT 1`, listingColumns),
		domain.NameKey(hotelName), domain.NameKey(foodName))
	if err != nil {
		return domain.Listing{}, err
	}
	if len(listings) == 0 {
		return domain.Listing{}, domain.ErrNotFound
	}
	return listings[0], nil
}

// CompareAndSwap applies next when the row still carries prev.Version.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, prev, next domain.Listing) error {
	return swapListing(ctx, r.db, prev, next)
}

func swapListing(ctx context.Context, q execer, prev, next domain.Listing) error {
	res, err := q.ExecContext(ctx, `
		UPDATE listings SET quantity = $1, is_available = $2, status = $3, last_booked_at = $4, version = $5
		WHERE id = $6 AND version = $7`,
		next.Quantity, next.Available, string(next.Status), nullTime(next.LastBookedAt), next.Version,
		prev.ID, prev.Version,
	)
	if err != nil {
		return storageErr("update listing", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("update listing", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, prev.ID).Scan(&exists); err != nil {
		return storageErr("check listing", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// ListAll returns every listing in insertion order.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]domain.Listing, error) {
	return r.selectListings(ctx, fmt.Sprintf("SELECT %s FROM listings ORDER BY seq", listingColumns))
}

func (r *PostgresRepository) selectListings(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("select listings", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		var (
			l          domain.Listing
			status     string
			lastBooked sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.Seq, &l.HotelName, &l.FoodName, &l.Price, &l.Quantity,
			&l.Location.Lat, &l.Location.Lng, &l.LocationText, &l.Available, &status,
			&l.CreatedAt, &lastBooked, &l.Version); err != nil {
			return nil, storageErr("scan listing", err)
		}
		l.Status = domain.Status(status)
		l.CreatedAt = l.CreatedAt.UTC()
		if lastBooked.Valid {
			t := lastBooked.Time.UTC()
			l.LastBookedAt = &t
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate listings", err)
	}
	return listings, nil
}

// applyRadius turns prefiltered listings into matches, computing exact
// distances when the filter carries a radius.
func applyRadius(listings []domain.Listing, filter domain.Filter) ([]domain.Match, error) {
	matches := make([]domain.Match, 0, len(listings))
	for _, l := range listings {
		m := domain.Match{Listing: l}
		if filter.Radius() {
			d, err := geo.Distance(*filter.Origin, l.Location)
			if err != nil {
				return nil, err
			}
			if d > *filter.MaxDistanceKM {
				continue
			}
			m.DistanceKM = &d
		}
		matches = append(matches, m)
	}
	SortMatches(matches, filter.Radius())
	return matches, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}
