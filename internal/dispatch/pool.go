package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// UsageLedger persists per-connection send counters outside the process so
// that pools created after a restart start from the current window usage.
type UsageLedger interface {
	Increment(ctx context.Context, connectionID string, at time.Time) error
	Load(ctx context.Context, connectionID string, at time.Time) (hourly, daily int, err error)
}

// PoolSnapshot is a read-only view of a connection pool.
type PoolSnapshot struct {
	ConnectionID    string    `json:"connectionId"`
	IsProcessing    bool      `json:"isProcessing"`
	LastProcessedAt time.Time `json:"lastProcessedAt"`
	LastSentAt      time.Time `json:"lastSentAt"`
	SentCount       int       `json:"sentCount"`
	HourlyCount     int       `json:"hourlyCount"`
	DailyCount      int       `json:"dailyCount"`
}

type pool struct {
	connectionID    string
	processing      bool
	lastProcessedAt time.Time
	lastSentAt      time.Time
	sentCount       int
	hourlyCount     int
	dailyCount      int
	hourStart       time.Time
	dayStart        time.Time
}

// rollover resets counters whose calendar window has passed.
func (p *pool) rollover(now time.Time) {
	if h := startOfHour(now); h.After(p.hourStart) {
		p.hourlyCount = 0
		p.hourStart = h
	}
	if d := startOfDay(now); d.After(p.dayStart) {
		p.dailyCount = 0
		p.dayStart = d
	}
}

func (p *pool) withinCeilings(limits ConnectionLimits) bool {
	return p.hourlyCount < limits.MaxPerHour && p.dailyCount < limits.MaxPerDay
}

// Pools tracks in-flight state and throughput of every connection this
// process sends through. Pools are created lazily and evicted when idle.
type Pools struct {
	limits ConnectionLimits
	ledger UsageLedger
	now    Clock
	loc    *time.Location

	mu    sync.Mutex
	pools map[string]*pool
}

// NewPools creates an empty pool registry. ledger may be nil.
func NewPools(limits ConnectionLimits, ledger UsageLedger, now Clock, loc *time.Location) *Pools {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Pools{
		limits: limits,
		ledger: ledger,
		now:    now,
		loc:    loc,
		pools:  make(map[string]*pool),
	}
}

func (p *Pools) clock() time.Time {
	return p.now().In(p.loc)
}

// get returns the pool of a connection, creating and hydrating it if needed.
func (p *Pools) get(ctx context.Context, connectionID string) *pool {
	p.mu.Lock()
	cp, ok := p.pools[connectionID]
	p.mu.Unlock()
	if ok {
		return cp
	}

	now := p.clock()
	fresh := &pool{
		connectionID:    connectionID,
		lastProcessedAt: now,
		hourStart:       startOfHour(now),
		dayStart:        startOfDay(now),
	}

	if p.ledger != nil {
		hourly, daily, err := p.ledger.Load(ctx, connectionID, now)
		if err != nil {
			slog.Warn("failed to load connection usage", "connection_id", connectionID, "error", err)
		} else {
			fresh.hourlyCount = hourly
			fresh.dailyCount = daily
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cp, ok := p.pools[connectionID]; ok {
		return cp
	}
	p.pools[connectionID] = fresh
	recordActivePools(len(p.pools))
	return fresh
}

// TryAcquire marks the connection as processing. It returns false when a
// batch is already in flight on the connection, when the last send is too
// recent, or when a connection ceiling is reached.
func (p *Pools) TryAcquire(ctx context.Context, connectionID string) bool {
	cp := p.get(ctx, connectionID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cp.processing {
		return false
	}

	now := p.clock()
	cp.rollover(now)

	if now.Sub(cp.lastSentAt) < p.limits.MinGap {
		return false
	}
	if !cp.withinCeilings(p.limits) {
		return false
	}

	cp.processing = true
	cp.lastProcessedAt = now
	return true
}

// Release clears the processing flag of a connection.
func (p *Pools) Release(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cp, ok := p.pools[connectionID]; ok {
		cp.processing = false
		cp.lastProcessedAt = p.clock()
	}
}

// WithinCeilings reports whether the connection may send one more message
// in the current hour and day.
func (p *Pools) WithinCeilings(connectionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, ok := p.pools[connectionID]
	if !ok {
		return true
	}
	cp.rollover(p.clock())
	return cp.withinCeilings(p.limits)
}

// RecordSent counts a successful send on the connection.
func (p *Pools) RecordSent(ctx context.Context, connectionID string) {
	cp := p.get(ctx, connectionID)
	now := p.clock()

	p.mu.Lock()
	cp.rollover(now)
	cp.sentCount++
	cp.hourlyCount++
	cp.dailyCount++
	cp.lastSentAt = now
	p.mu.Unlock()

	if p.ledger != nil {
		if err := p.ledger.Increment(ctx, connectionID, now); err != nil {
			slog.Warn("failed to record connection usage", "connection_id", connectionID, "error", err)
		}
	}
}

// Evict drops pools that are not processing and were idle longer than ttl.
func (p *Pools) Evict(ttl time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	evicted := 0
	for id, cp := range p.pools {
		if !cp.processing && now.Sub(cp.lastProcessedAt) > ttl {
			delete(p.pools, id)
			evicted++
		}
	}
	recordActivePools(len(p.pools))
	return evicted
}

// Clear drops every pool.
func (p *Pools) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pools = make(map[string]*pool)
	recordActivePools(0)
}

// Len returns the number of tracked connections.
func (p *Pools) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools)
}

// Busy returns the number of connections with a batch in flight.
func (p *Pools) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := 0
	for _, cp := range p.pools {
		if cp.processing {
			busy++
		}
	}
	return busy
}

// Snapshot returns pool state ordered by connection id.
func (p *Pools) Snapshot() []PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PoolSnapshot, 0, len(p.pools))
	for _, cp := range p.pools {
		out = append(out, PoolSnapshot{
			ConnectionID:    cp.connectionID,
			IsProcessing:    cp.processing,
			LastProcessedAt: cp.lastProcessedAt,
			LastSentAt:      cp.lastSentAt,
			SentCount:       cp.sentCount,
			HourlyCount:     cp.hourlyCount,
			DailyCount:      cp.dailyCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}
