package web

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps two token buckets per client IP: one for all requests
// and a stricter one for endpoints that run the whole pipeline.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	general  rate.Limit
	heavy    rate.Limit
	burst    int
	heavyB   int
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	general  *rate.Limiter
	heavy    *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows perMinute requests per IP, of which at most
// heavyPerMinute may hit pipeline endpoints.
func newRateLimiter(perMinute, heavyPerMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	if heavyPerMinute <= 0 {
		heavyPerMinute = 10
	}
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		general:  rate.Limit(float64(perMinute) / 60),
		heavy:    rate.Limit(float64(heavyPerMinute) / 60),
		burst:    perMinute,
		heavyB:   heavyPerMinute,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup drops visitors idle for more than three minutes.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *rateLimiter) visitor(ip string) *visitor {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{
			general: rate.NewLimiter(rl.general, rl.burst),
			heavy:   rate.NewLimiter(rl.heavy, rl.heavyB),
		}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v
}

// allow consumes a token for ip. Heavy requests also consume a heavy token.
func (rl *rateLimiter) allow(ip string, heavy bool) bool {
	v := rl.visitor(ip)
	if !v.general.Allow() {
		return false
	}
	if heavy && !v.heavy.Allow() {
		return false
	}
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r), isHeavy(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			respondError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isHeavy reports whether r runs a full pipeline.
func isHeavy(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	p := r.URL.Path
	return strings.HasSuffix(p, "/pipeline") || strings.HasSuffix(p, "/upload")
}
