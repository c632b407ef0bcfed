package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/foodshare/internal/auth"
	"github.com/example/foodshare/internal/geolocation"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/service"
)

// HTTP exposes the listing engine over REST.
type HTTP struct {
	svc     *service.Service
	locator geolocation.Provider
	secret  string
	logger  *zap.Logger
}

// NewHTTP constructs a handler. An empty secret disables role checks.
func NewHTTP(svc *service.Service, locator geolocation.Provider, secret string, logger *zap.Logger) *HTTP {
	if locator == nil {
		locator = geolocation.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{svc: svc, locator: locator, secret: secret, logger: logger}
}

// Router builds the chi router. Extra middlewares run after authentication
// so they can see the caller's claims.
func (h *HTTP) Router(mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, h.requestLogger, middleware.Recoverer)
	r.Use(auth.Authenticate(h.secret))
	r.Use(mws...)

	r.With(auth.RequireRole(h.secret, auth.RoleHotel)).Post("/v1/listings", h.publish)
	r.With(auth.RequireRole(h.secret, auth.RoleWorker)).Get("/v1/listings", h.search)
	r.With(auth.RequireRole(h.secret, auth.RoleWorker)).Post("/v1/reservations", h.reserve)
	r.With(auth.RequireRole(h.secret)).Get("/v1/inventory", h.inventory)
	r.Get("/v1/location", h.location)
	return r
}

func (h *HTTP) publish(w http.ResponseWriter, r *http.Request) {
	var req service.PublishRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.Publish(r.Context(), r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type searchResponse struct {
	Results []domain.Match `json:"results"`
}

func (h *HTTP) search(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	matches, err := h.svc.Search(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if matches == nil {
		matches = []domain.Match{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: matches})
}

// parseFilter reads max_price (required), food, max_distance_km, lat and lng.
func parseFilter(r *http.Request) (domain.Filter, error) {
	q := r.URL.Query()
	var filter domain.Filter

	raw := q.Get("max_price")
	if raw == "" {
		return filter, fmt.Errorf("%w: max_price is required", domain.ErrInvalidArgument)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return filter, fmt.Errorf("%w: max_price %q is not a number", domain.ErrInvalidArgument, raw)
	}
	filter.MaxPrice = price
	filter.FoodName = q.Get("food")

	if raw := q.Get("max_distance_km"); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: max_distance_km %q is not a number", domain.ErrInvalidArgument, raw)
		}
		filter.MaxDistanceKM = &d
	}

	lat, lng := q.Get("lat"), q.Get("lng")
	if lat != "" || lng != "" {
		var origin domain.GeoPoint
		if origin.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
			return filter, fmt.Errorf("%w: lat %q", domain.ErrInvalidLocation, lat)
		}
		if origin.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
			return filter, fmt.Errorf("%w: lng %q", domain.ErrInvalidLocation, lng)
		}
		filter.Origin = &origin
	}
	return filter, nil
}

type reserveRequest struct {
	HotelName string `json:"hotel_name"`
	FoodName  string `json:"food_name"`
}

func (h *HTTP) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.Reserve(r.Context(), req.HotelName, req.FoodName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTP) inventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Inventory(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type locationResponse struct {
	OK        bool     `json:"ok"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	AccuracyM float64  `json:"accuracy_m,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

func (h *HTTP) location(w http.ResponseWriter, r *http.Request) {
	res := h.locator.CurrentLocation(r.Context())
	if !res.OK() {
		writeJSON(w, http.StatusOK, locationResponse{Reason: res.Reason})
		return
	}
	lat, lng := res.Point.Lat, res.Point.Lng
	writeJSON(w, http.StatusOK, locationResponse{OK: true, Lat: &lat, Lng: &lng, AccuracyM: res.AccuracyM})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidLocation),
		errors.Is(err, domain.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTP) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *HTTP) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if strings.HasPrefix(r.URL.Path, "/observability") {
			return
		}
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
