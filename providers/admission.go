package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorIdle is how long an address may go without connecting before its
// bucket is forgotten.
const visitorIdle = 3 * time.Minute

// Admission limits how fast a single IP may open WebSocket connections.
type Admission struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAdmission allows perSecond connections per IP with the given burst.
// A non-positive rate disables the check.
func NewAdmission(perSecond float64, burst int) *Admission {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Admission{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether ip may open a connection now.
func (a *Admission) Allow(ip string) bool {
	now := a.now()

	a.mu.Lock()
	v, ok := a.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(a.limit, a.burst)}
		a.visitors[ip] = v
	}
	v.lastSeen = now
	a.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Sweep forgets addresses idle for longer than visitorIdle.
func (a *Admission) Sweep() int {
	cutoff := a.now().Add(-visitorIdle)

	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for ip, v := range a.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(a.visitors, ip)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (a *Admission) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of tracked addresses.
func (a *Admission) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.visitors)
}
