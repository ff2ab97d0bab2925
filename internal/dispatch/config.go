package dispatch

import "time"

// FallbackPolicy decides what the account selector does when every
// eligible connection reached its mode caps.
type FallbackPolicy string

// Fallback policies.
const (
	// FallbackBestEffort picks the least used connection anyway.
	FallbackBestEffort FallbackPolicy = "best_effort"
	// FallbackStrict leaves the campaign waiting until capacity frees up.
	FallbackStrict FallbackPolicy = "strict"
)

// ConnectionLimits is the connection level circuit breaker, independent of
// campaign mode caps.
type ConnectionLimits struct {
	MinGap     time.Duration
	MaxPerHour int
	MaxPerDay  int
}

// Config contains dispatcher configuration.
type Config struct {
	TickInterval             time.Duration
	ScanLimit                int
	MaxConcurrentConnections int
	SubBatchSize             int
	SubBatchPause            time.Duration
	Connection               ConnectionLimits
	PoolIdleTTL              time.Duration
	CleanupSchedule          string
	AnalyticsSchedule        string
	Location                 *time.Location
	CappedFallback           FallbackPolicy
	Retry                    RetryPolicy
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:             3 * time.Second,
		ScanLimit:                100,
		MaxConcurrentConnections: 5,
		SubBatchSize:             5,
		SubBatchPause:            time.Second,
		Connection: ConnectionLimits{
			MinGap:     2 * time.Second,
			MaxPerHour: 300,
			MaxPerDay:  5000,
		},
		PoolIdleTTL:       5 * time.Minute,
		CleanupSchedule:   "@every 1m",
		AnalyticsSchedule: "@every 5m",
		Location:          time.UTC,
		CappedFallback:    FallbackBestEffort,
		Retry:             DefaultRetryPolicy(),
	}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
