package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/foodshare/internal/auth"
)

// Bucket is a token bucket refilled at Rate tokens per second up to Burst.
type Bucket struct {
	Rate  float64
	Burst float64
}

func (b Bucket) enabled() bool { return b.Rate > 0 && b.Burst > 0 }

// RateLimiter throttles callers with Redis-backed token buckets, one for
// read requests (search, inventory) and one for writes (publish, reserve).
type RateLimiter struct {
	client redis.Scripter
	read   Bucket
	write  Bucket
	script *redis.Script
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter returns nil when client is nil; a nil limiter passes
// every request through.
func NewRateLimiter(client redis.Scripter, read, write Bucket, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		client: client,
		read:   read,
		write:  write,
		script: redis.NewScript(bucketScript),
		logger: logger,
		now:    time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || (!l.read.enabled() && !l.write.enabled()) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, bucket := "write", l.write
		if isReadMethod(r.Method) {
			scope, bucket = "read", l.read
		}
		if !bucket.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		caller := callerID(r)
		ok, wait, err := l.take(r.Context(), scope, caller, bucket)
		if err != nil {
			l.logger.Error("rate limiter unavailable", zap.Error(err), zap.String("caller", caller))
			writeJSONError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
			return
		}
		if !ok {
			w.Header().Set("Retry-After", retryAfter(wait))
			writeJSONError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) take(ctx context.Context, scope, caller string, b Bucket) (bool, time.Duration, error) {
	key := "foodshare:rl:" + scope + ":" + caller
	res, err := l.script.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), b.Rate, b.Burst).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("run bucket script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, errors.New("unexpected bucket script reply")
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// callerID prefers the authenticated subject, then X-Client-ID, then the
// first forwarded address, then the peer address.
func callerID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return "client:" + id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return "ip:" + first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return "anonymous"
}

func retryAfter(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Replies {allowed, wait_ms}. Lua numbers are truncated to integers on the
// way out, so the wait is reported in whole milliseconds.
const bucketScript = `
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local stamp = tonumber(redis.call('HGET', KEYS[1], 'stamp'))
if tokens == nil then tokens = burst end
if stamp == nil or stamp > now then stamp = now end

tokens = math.min(burst, tokens + (now - stamp) * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'stamp', tostring(now))
redis.call('PEXPIRE', KEYS[1], math.ceil(burst / rate * 1000) + 1000)
return {allowed, wait}
`
