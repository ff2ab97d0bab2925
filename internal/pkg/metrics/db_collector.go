package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordDBPoolMetrics copies pgxpool statistics into DBPoolConnections.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()

	for state, n := range map[string]int32{
		"in_use":       stats.AcquiredConns(),
		"idle":         stats.IdleConns(),
		"constructing": stats.ConstructingConns(),
		"max":          stats.MaxConns(),
	} {
		DBPoolConnections.WithLabelValues(state).Set(float64(n))
	}
}
