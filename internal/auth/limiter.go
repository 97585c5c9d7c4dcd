package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool keeps one token bucket per client key. Buckets idle longer
// than ttl are dropped on a later access.
type LimiterPool struct {
	m         map[string]*limiterEntry
	now       func() time.Time
	lastPrune time.Time
	rps       rate.Limit
	burst     int
	ttl       time.Duration
	mu        sync.Mutex
}

// NewLimiterPool returns a pool allowing rps requests per second per key
// with the given burst. rps <= 0 disables limiting.
func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if burst < 1 {
		burst = 1
	}
	return &LimiterPool{
		m:     make(map[string]*limiterEntry),
		now:   time.Now,
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   10 * time.Minute,
	}
}

// Allow reports whether key may proceed now.
func (p *LimiterPool) Allow(key string) bool {
	if p == nil || p.rps <= 0 {
		return true
	}
	return p.get(key).AllowN(p.now(), 1)
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastPrune) > time.Minute {
		cutoff := now.Add(-p.ttl)
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.lastPrune = now
	}

	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

func (p *LimiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// ClientKey identifies the caller by remote host, without the port.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
