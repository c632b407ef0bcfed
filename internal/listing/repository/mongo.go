package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/foodshare/internal/listing/domain"
)

// mongoRadiusSlack widens the $geoNear prefilter: the server measures on a
// 6378.1 km sphere, the exact filter in applyRadius uses 6371 km.
const mongoRadiusSlack = 1.01

const counterID = "listings"

type geoJSONPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type mongoListing struct {
	ID            string       `bson:"_id"`
	Seq           int64        `bson:"seq"`
	HotelName     string       `bson:"hotel_name"`
	HotelKey      string       `bson:"hotel_key"`
	FoodName      string       `bson:"food_name"`
	FoodKey       string       `bson:"food_key"`
	Price         float64      `bson:"price"`
	Quantity      int          `bson:"quantity"`
	Location      geoJSONPoint `bson:"location"`
	HotelLocation string       `bson:"hotel_location"`
	IsAvailable   bool         `bson:"is_available"`
	Status        string       `bson:"status"`
	CreatedAt     time.Time    `bson:"created_at"`
	LastBooked    *time.Time   `bson:"last_booked,omitempty"`
	Version       int64        `bson:"version"`
}

func toMongo(l domain.Listing) mongoListing {
	return mongoListing{
		ID:            l.ID,
		Seq:           l.Seq,
		HotelName:     l.HotelName,
		HotelKey:      domain.NameKey(l.HotelName),
		FoodName:      l.FoodName,
		FoodKey:       domain.NameKey(l.FoodName),
		Price:         l.Price,
		Quantity:      l.Quantity,
		Location:      geoJSONPoint{Type: "Point", Coordinates: []float64{l.Location.Lng, l.Location.Lat}},
		HotelLocation: l.LocationText,
		IsAvailable:   l.Available,
		Status:        string(l.Status),
		CreatedAt:     l.CreatedAt,
		LastBooked:    l.LastBookedAt,
		Version:       l.Version,
	}
}

func (d mongoListing) toDomain() domain.Listing {
	l := domain.Listing{
		ID:           d.ID,
		Seq:          d.Seq,
		HotelName:    d.HotelName,
		FoodName:     d.FoodName,
		Price:        d.Price,
		Quantity:     d.Quantity,
		LocationText: d.HotelLocation,
		Available:    d.IsAvailable,
		Status:       domain.Status(d.Status),
		CreatedAt:    d.CreatedAt.UTC(),
		Version:      d.Version,
	}
	if len(d.Location.Coordinates) == 2 {
		l.Location = domain.GeoPoint{Lat: d.Location.Coordinates[1], Lng: d.Location.Coordinates[0]}
	}
	if d.LastBooked != nil {
		t := d.LastBooked.UTC()
		l.LastBookedAt = &t
	}
	return l
}

// MongoRepository stores listings as GeoJSON documents. Bookings use a
// version-guarded UpdateOne on a single document.
type MongoRepository struct {
	listings *mongo.Collection
	counters *mongo.Collection
}

// NewMongoRepository uses the given collection for listings and a sibling
// "counters" collection for insertion sequence numbers.
func NewMongoRepository(db *mongo.Database, collection string) *MongoRepository {
	if collection == "" {
		collection = "food_items"
	}
	return &MongoRepository{
		listings: db.Collection(collection),
		counters: db.Collection("counters"),
	}
}

// EnsureIndexes creates the scalar and 2dsphere indices used by queries.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "hotel_key", Value: 1}}},
		{Keys: bson.D{{Key: "price", Value: 1}}},
		{Keys: bson.D{{Key: "food_key", Value: 1}}},
		{Keys: bson.D{{Key: "is_available", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	}
	if _, err := r.listings.Indexes().CreateMany(ctx, models); err != nil {
		return storageErr("create indexes", err)
	}
	return nil
}

// Insert stores a new listing.
func (r *MongoRepository) Insert(ctx context.Context, listing domain.Listing) (domain.Listing, error) {
	listing, err := prepareInsert(listing)
	if err != nil {
		return domain.Listing{}, err
	}
	seq, err := r.nextSeq(ctx)
	if err != nil {
		return domain.Listing{}, err
	}
	listing.Seq = seq
	if _, err := r.listings.InsertOne(ctx, toMongo(listing)); err != nil {
		return domain.Listing{}, storageErr("insert listing", err)
	}
	return listing, nil
}

func (r *MongoRepository) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx, bson.M{"_id": counterID}, bson.M{"$inc": bson.M{"value": 1}}, opts).Decode(&counter)
	if err != nil {
		return 0, storageErr("next sequence", err)
	}
	return counter.Value, nil
}

// Query returns available listings matching the filter.
func (r *MongoRepository) Query(ctx context.Context, filter domain.Filter) ([]domain.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	match := bson.M{
		"is_available": true,
		"price":        bson.M{"$lte": filter.MaxPrice},
	}
	if needle := domain.NameKey(filter.FoodName); needle != "" {
		// $indexOfCP keeps user text literal; a $regex would interpret it.
		match["$expr"] = bson.M{"$gte": bson.A{bson.M{"$indexOfCP": bson.A{"$food_key", needle}}, 0}}
	}

	var (
		cur *mongo.Cursor
		err error
	)
	if filter.Radius() {
		pipeline := mongo.Pipeline{
			{{Key: "$geoNear", Value: bson.M{
				"near":          geoJSONPoint{Type: "Point", Coordinates: []float64{filter.Origin.Lng, filter.Origin.Lat}},
				"distanceField": "distance_m",
				"maxDistance":   *filter.MaxDistanceKM * 1000 * mongoRadiusSlack,
				"spherical":     true,
			}}},
			{{Key: "$match", Value: match}},
		}
		cur, err = r.listings.Aggregate(ctx, pipeline)
	} else {
		cur, err = r.listings.Find(ctx, match, options.Find().SetSort(bson.D{{Key: "price", Value: 1}, {Key: "seq", Value: 1}}))
	}
	if err != nil {
		return nil, storageErr("query listings", err)
	}
	listings, err := decodeListings(ctx, cur)
	if err != nil {
		return nil, err
	}
	return applyRadius(listings, filter)
}

// FindReservable picks the most recently created available listing for the pair.
func (r *MongoRepository) FindReservable(ctx context.Context, hotelName, foodName string) (domain.Listing, error) {
	filter := bson.M{
		"hotel_key":    domain.NameKey(hotelName),
		"food_key":     domain.NameKey(foodName),
		"is_available": true,
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	var doc mongoListing
	err := r.listings.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Listing{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Listing{}, storageErr("find listing", err)
	}
	return doc.toDomain(), nil
}

// CompareAndSwap applies next when the document still carries prev.Version.
func (r *MongoRepository) CompareAndSwap(ctx context.Context, prev, next domain.Listing) error {
	set := bson.M{
		"quantity":     next.Quantity,
		"is_available": next.Available,
		"status":       string(next.Status),
		"version":      next.Version,
	}
	if next.LastBookedAt != nil {
		set["last_booked"] = *next.LastBookedAt
	}
	res, err := r.listings.UpdateOne(ctx, bson.M{"_id": prev.ID, "version": prev.Version}, bson.M{"$set": set})
	if err != nil {
		return storageErr("update listing", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := r.listings.CountDocuments(ctx, bson.M{"_id": prev.ID})
	if err != nil {
		return storageErr("check listing", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// ListAll returns every listing in insertion order.
func (r *MongoRepository) ListAll(ctx context.Context) ([]domain.Listing, error) {
	cur, err := r.listings.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, storageErr("list listings", err)
	}
	return decodeListings(ctx, cur)
}

func decodeListings(ctx context.Context, cur *mongo.Cursor) ([]domain.Listing, error) {
	defer cur.Close(ctx)
	var listings []domain.Listing
	for cur.Next(ctx) {
		var doc mongoListing
		if err := cur.Decode(&doc); err != nil {
			return nil, storageErr("decode listing", err)
		}
		listings = append(listings, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, storageErr("iterate listings", err)
	}
	return listings, nil
}
