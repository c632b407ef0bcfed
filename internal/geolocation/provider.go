package geolocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/example/foodshare/internal/config"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/geo"
)

// ReasonNotFound is the failure reason when no usable fix was obtained.
// Message renders it as "error - coordinates not found".
const ReasonNotFound = "coordinates not found"

// Result is either a coordinate or a failure reason, never both.
type Result struct {
	Point     domain.GeoPoint
	AccuracyM float64
	Reason    string
}

func (r Result) OK() bool { return r.Reason == "" }

// Message is the user-facing form of a failed result.
func (r Result) Message() string { return "error - " + r.Reason }

func Failure(reason string) Result {
	if reason == "" {
		reason = ReasonNotFound
	}
	return Result{Reason: reason}
}

// Provider reports a best-effort current position.
type Provider interface {
	CurrentLocation(ctx context.Context) Result
}

// StaticProvider always reports the same position.
type StaticProvider struct {
	Point domain.GeoPoint
}

func (p StaticProvider) CurrentLocation(context.Context) Result {
	return Result{Point: p.Point}
}

// NewStaticProvider parses "lat,lon".
func NewStaticProvider(coord string) (StaticProvider, error) {
	p, err := geo.ParseCoordinate(coord)
	if err != nil {
		return StaticProvider{}, err
	}
	return StaticProvider{Point: p}, nil
}

// GoogleProvider asks the Google Geolocation API for an IP-based fix.
type GoogleProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGoogleProvider builds the provider; timeout defaults to 5s.
func NewGoogleProvider(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *GoogleProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleProvider{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  timeout,
		logger:   logger,
	}
}

type geolocateResponse struct {
	Location *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// CurrentLocation never returns an error; failures come back as a Result reason.
func (p *GoogleProvider) CurrentLocation(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	target, err := url.Parse(p.endpoint)
	if err != nil {
		return p.failed("invalid endpoint", err)
	}
	q := target.Query()
	q.Set("key", p.apiKey)
	target.RawQuery = q.Encode()

	body, _ := json.Marshal(map[string]any{"considerIp": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return p.failed("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return p.failed("request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.failed("status", fmt.Errorf("geolocation api returned %d", resp.StatusCode))
	}

	var payload geolocateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return p.failed("decode", err)
	}
	if payload.Location == nil || payload.Location.Lat == nil || payload.Location.Lng == nil {
		return p.failed("decode", fmt.Errorf("response has no location"))
	}
	point := domain.GeoPoint{Lat: *payload.Location.Lat, Lng: *payload.Location.Lng}
	if err := point.Validate(); err != nil {
		return p.failed("validate", err)
	}
	p.logger.Debug("location resolved", zap.Stringer("point", point), zap.Float64("accuracy_m", payload.Accuracy))
	return Result{Point: point, AccuracyM: payload.Accuracy}
}

func (p *GoogleProvider) failed(stage string, err error) Result {
	p.logger.Warn("geolocation failed", zap.String("stage", stage), zap.Error(err))
	return Failure(ReasonNotFound)
}

// Unavailable is used when no location source is configured.
type Unavailable struct{}

func (Unavailable) CurrentLocation(context.Context) Result {
	return Failure("no location source configured")
}

// FromConfig prefers a static coordinate, then the Google API when a key is
// set, and otherwise returns Unavailable.
func FromConfig(cfg config.Config, logger *zap.Logger) (Provider, error) {
	switch {
	case cfg.StaticLocation != "":
		return NewStaticProvider(cfg.StaticLocation)
	case cfg.GeolocationKey != "":
		return NewGoogleProvider(cfg.GeolocationURL, cfg.GeolocationKey, cfg.GeolocationTO, logger), nil
	default:
		return Unavailable{}, nil
	}
}
