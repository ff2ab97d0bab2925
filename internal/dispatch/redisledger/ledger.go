// Package redisledger keeps per-connection send counters in Redis so that
// connection ceilings survive restarts and are shared between replicas.
package redisledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "dispatch:usage"

const (
	hourTTL = 2 * time.Hour
	dayTTL  = 48 * time.Hour
)

// Ledger implements dispatch.UsageLedger on Redis counters.
type Ledger struct {
	client redis.Cmdable
	prefix string
}

var _ dispatch.UsageLedger = (*Ledger)(nil)

// New creates a ledger. An empty prefix uses DefaultPrefix.
func New(client redis.Cmdable, prefix string) *Ledger {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Ledger{client: client, prefix: prefix}
}

func (l *Ledger) hourKey(connectionID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:h:%s", l.prefix, connectionID, at.Format("2006010215"))
}

func (l *Ledger) dayKey(connectionID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:d:%s", l.prefix, connectionID, at.Format("20060102"))
}

// Increment counts one send in the hour and day windows containing at.
func (l *Ledger) Increment(ctx context.Context, connectionID string, at time.Time) error {
	hk, dk := l.hourKey(connectionID, at), l.dayKey(connectionID, at)

	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, hk)
	pipe.Expire(ctx, hk, hourTTL)
	pipe.Incr(ctx, dk)
	pipe.Expire(ctx, dk, dayTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// Load returns the send counts of the hour and day windows containing at.
func (l *Ledger) Load(ctx context.Context, connectionID string, at time.Time) (int, int, error) {
	vals, err := l.client.MGet(ctx, l.hourKey(connectionID, at), l.dayKey(connectionID, at)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("load usage: %w", err)
	}

	hourly, err := toInt(vals[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse hourly usage: %w", err)
	}
	daily, err := toInt(vals[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse daily usage: %w", err)
	}
	return hourly, daily, nil
}

// Ping checks the Redis connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func toInt(v interface{}) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
