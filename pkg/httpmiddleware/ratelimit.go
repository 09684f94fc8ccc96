package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BuyerIDHeader identifies the authenticated buyer, set by the gateway.
const BuyerIDHeader = "X-Buyer-ID"

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc picks the bucket for a request. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
}

// window counts requests of one key in the current and previous windows.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

type limiter struct {
	max    int
	size   time.Duration
	keyFor func(*http.Request) string

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	keyFor := cfg.KeyFunc
	if keyFor == nil {
		keyFor = ClientKey
	}
	return &limiter{
		max:     cfg.Max,
		size:    cfg.Window,
		keyFor:  keyFor,
		windows: make(map[string]*window),
	}
}

// take records a request for key if the weighted count of the previous and
// current windows is below max.
func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.size)
	win, found := l.windows[key]
	switch {
	case !found:
		win = &window{currStart: start}
		l.windows[key] = win
	case start.Sub(win.currStart) >= 2*l.size:
		*win = window{currStart: start}
	case start.After(win.currStart):
		*win = window{prevCount: win.currCount, currStart: start}
	}

	overlap := 1 - now.Sub(win.currStart).Seconds()/l.size.Seconds()
	used := win.prevCount*math.Max(overlap, 0) + win.currCount
	resetAt = win.currStart.Add(l.size)

	if used >= float64(l.max) {
		return 0, resetAt, false
	}
	win.currCount++
	return max(int(float64(l.max)-used-1), 0), resetAt, true
}

func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, win := range l.windows {
		if now.Sub(win.currStart) >= 2*l.size {
			delete(l.windows, key)
		}
	}
}

// RateLimit limits requests per key. Rejected requests get 429 with a
// Retry-After header; every response carries the X-RateLimit-* headers.
// Idle keys are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * l.size)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := l.take(l.keyFor(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				wait := math.Ceil(max(time.Until(resetAt), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(wait)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey buckets by buyer when the gateway identified one and by client
// IP otherwise.
func ClientKey(r *http.Request) string {
	if buyer := r.Header.Get(BuyerIDHeader); buyer != "" {
		return "buyer:" + buyer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
