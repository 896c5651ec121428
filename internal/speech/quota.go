package speech

import (
	"sync"
	"time"
)

// Defaults for [Limits].
const (
	DefaultDailyCharLimit     = 5000
	DefaultMaxCharsPerRequest = 500
	DefaultCostPerChar        = 0.00075
)

// Limits bound primary TTS usage.
type Limits struct {
	// DailyChars is the number of characters the primary provider may bill
	// per calendar day.
	DailyChars int

	// PerRequest caps the length of one utterance.
	PerRequest int

	// CostPerChar estimates the primary provider's price in dollars.
	CostPerChar float64
}

// DefaultLimits returns the default usage limits.
func DefaultLimits() Limits {
	return Limits{
		DailyChars:  DefaultDailyCharLimit,
		PerRequest:  DefaultMaxCharsPerRequest,
		CostPerChar: DefaultCostPerChar,
	}
}

// Usage is a snapshot of the primary provider's usage today.
type Usage struct {
	Used          int
	Limit         int
	Remaining     int
	EstimatedCost float64

	// Day is the calendar day the counter belongs to, as YYYY-MM-DD.
	Day string
}

// Quota counts characters billed by the primary provider per calendar day.
// The counter is zeroed before any check once the local date changes. State
// lives in memory only.
//
// All methods are safe for concurrent use.
type Quota struct {
	mu     sync.Mutex
	limits Limits
	used   int
	day    string
	now    func() time.Time
}

// NewQuota returns a [Quota] enforcing limits. A nil now uses [time.Now].
func NewQuota(limits Limits, now func() time.Time) *Quota {
	if now == nil {
		now = time.Now
	}
	q := &Quota{limits: limits, now: now}
	q.day = dayOf(now())
	return q
}

// Allow reports whether n more characters fit into today's limit.
func (q *Quota) Allow(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.used+n <= q.limits.DailyChars
}

// Add records n billed characters.
func (q *Quota) Add(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.used += n
}

// Usage returns today's usage.
func (q *Quota) Usage() Usage {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return Usage{
		Used:          q.used,
		Limit:         q.limits.DailyChars,
		Remaining:     max(q.limits.DailyChars-q.used, 0),
		EstimatedCost: float64(q.used) * q.limits.CostPerChar,
		Day:           q.day,
	}
}

// Limits returns the limits in force.
func (q *Quota) Limits() Limits {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limits
}

// SetLimits replaces the limits. Today's counter is kept.
func (q *Quota) SetLimits(l Limits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limits = l
}

// SetUsed overwrites today's counter.
func (q *Quota) SetUsed(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.used = n
}

// rollover zeroes the counter when the day changed. Caller holds q.mu.
func (q *Quota) rollover() {
	if d := dayOf(q.now()); d != q.day {
		q.day = d
		q.used = 0
	}
}

func dayOf(t time.Time) string { return t.Format(time.DateOnly) }
