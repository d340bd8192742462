package privateblog

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Default login throttling policy: five failures per IP within five
// minutes blocks further attempts from that IP.
const (
	DefaultLoginMaxAttempts = 5
	DefaultLoginWindow      = 5 * time.Minute
)

// Limiter tracks failed logins per client IP.
//
// Successful logins never reset an IP's history. Only failures are
// recorded, and they age out of the window on their own.
type Limiter interface {
	// Limited reports whether ip has reached the failure threshold inside
	// the trailing window.
	Limited(ctx context.Context, ip string) (bool, error)
	// RecordFailure appends a failed attempt for ip at the current time.
	RecordFailure(ctx context.Context, ip string) error
	// Reserve checks the threshold and records an attempt for ip in one
	// atomic step. It returns ok=false without recording when ip is
	// limited. The attempt counts as a failure unless it is released.
	Reserve(ctx context.Context, ip string) (ticket string, ok bool, err error)
	// Release drops the attempt recorded under ticket.
	Release(ctx context.Context, ip, ticket string) error
}

type attempt struct {
	at time.Time
	id uint64
}

// LoginLimiter is the in-process Limiter. State is lost on restart.
type LoginLimiter struct {
	mu       sync.Mutex
	attempts map[string][]attempt
	seq      uint64
	max      int
	window   time.Duration
	now      func() time.Time

	sweep    bool
	stop     chan struct{}
	stopOnce sync.Once
}

// LimiterOption configures a LoginLimiter.
type LimiterOption func(*LoginLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *LoginLimiter) {
		l.now = now
	}
}

// WithoutSweep disables the background goroutine that drops idle IPs.
// Stale timestamps are still pruned on every Limited call.
func WithoutSweep() LimiterOption {
	return func(l *LoginLimiter) {
		l.sweep = false
	}
}

// NewLoginLimiter creates a LoginLimiter that blocks an IP once it has max
// failures within window. Unless WithoutSweep is given, a goroutine removes
// IPs with no recent failures once per window until Close is called.
func NewLoginLimiter(max int, window time.Duration, opts ...LimiterOption) *LoginLimiter {
	l := &LoginLimiter{
		attempts: make(map[string][]attempt),
		max:      max,
		window:   window,
		now:      time.Now,
		sweep:    true,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweep {
		go l.cleanup()
	}
	return l
}

func (l *LoginLimiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip := range l.attempts {
				l.pruneLocked(ip)
			}
			l.mu.Unlock()
		}
	}
}

// pruneLocked drops timestamps for ip that fell out of the window and
// returns how many remain. The map entry is deleted once it is empty.
func (l *LoginLimiter) pruneLocked(ip string) int {
	now := l.now()
	hits := l.attempts[ip]
	kept := hits[:0]
	for _, a := range hits {
		if now.Sub(a.at) < l.window {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, ip)
		return 0
	}
	l.attempts[ip] = kept
	return len(kept)
}

// IsLimited reports whether ip has at least max failures in the window.
func (l *LoginLimiter) IsLimited(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(ip) >= l.max
}

// Record registers a failed login attempt for ip.
func (l *LoginLimiter) Record(ip string) {
	l.mu.Lock()
	l.recordLocked(ip)
	l.mu.Unlock()
}

func (l *LoginLimiter) recordLocked(ip string) uint64 {
	l.seq++
	l.attempts[ip] = append(l.attempts[ip], attempt{at: l.now(), id: l.seq})
	return l.seq
}

// Limited implements Limiter.
func (l *LoginLimiter) Limited(_ context.Context, ip string) (bool, error) {
	return l.IsLimited(ip), nil
}

// RecordFailure implements Limiter.
func (l *LoginLimiter) RecordFailure(_ context.Context, ip string) error {
	l.Record(ip)
	return nil
}

// Reserve implements Limiter.
func (l *LoginLimiter) Reserve(_ context.Context, ip string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pruneLocked(ip) >= l.max {
		return "", false, nil
	}
	return strconv.FormatUint(l.recordLocked(ip), 10), true, nil
}

// Release implements Limiter. Unknown tickets, including ones that already
// aged out of the window, are ignored.
func (l *LoginLimiter) Release(_ context.Context, ip, ticket string) error {
	id, err := strconv.ParseUint(ticket, 10, 64)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	hits := l.attempts[ip]
	for i, a := range hits {
		if a.id == id {
			hits = append(hits[:i], hits[i+1:]...)
			break
		}
	}
	if len(hits) == 0 {
		delete(l.attempts, ip)
	} else {
		l.attempts[ip] = hits
	}
	return nil
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (l *LoginLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

// tracked returns the number of IPs currently held in memory.
func (l *LoginLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
