// Package postgres provides PostgreSQL implementation of the dispatch repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements dispatch.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ dispatch.Repository = (*Repository)(nil)

type scanner interface {
	Scan(dest ...any) error
}

const queueColumns = `
	q.id, q.campaign_id, q.company_id, q.recipient_id, q.account_id, q.status, q.priority,
	q.scheduled_for, q.attempts, q.max_attempts, q.metadata, q.error_message,
	q.started_at, q.completed_at, q.last_error_at, q.created_at`

func scanQueueItem(row scanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := row.Scan(
		&item.ID,
		&item.CampaignID,
		&item.CompanyID,
		&item.RecipientID,
		&item.AccountID,
		&item.Status,
		&item.Priority,
		&item.ScheduledFor,
		&item.Attempts,
		&item.MaxAttempts,
		&item.Metadata,
		&item.ErrorMessage,
		&item.StartedAt,
		&item.CompletedAt,
		&item.LastErrorAt,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FetchDueItems returns pending items of running campaigns whose schedule
// has passed, ordered by priority and schedule.
func (r *Repository) FetchDueItems(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	query := `
		SELECT` + queueColumns + `
		FROM campaign_queue q
		JOIN campaigns c ON c.id = q.campaign_id
		WHERE q.status = 'pending'
		  AND q.scheduled_for <= $1
		  AND c.status = 'running'
		ORDER BY q.priority ASC, q.scheduled_for ASC, q.id ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}

	return items, nil
}

// ClaimItem moves a pending item to processing. It returns false when the
// item is no longer pending.
func (r *Repository) ClaimItem(ctx context.Context, itemID, connectionID string, now time.Time) (bool, error) {
	query := `
		UPDATE campaign_queue
		SET status = 'processing', account_id = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, itemID, connectionID, now)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SetItemMetadata replaces the metadata of an item.
func (r *Repository) SetItemMetadata(ctx context.Context, itemID string, metadata map[string]string) error {
	query := `UPDATE campaign_queue SET metadata = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, itemID, metadata); err != nil {
		return fmt.Errorf("set item metadata: %w", err)
	}
	return nil
}

// CompleteItem marks a processing item as completed.
func (r *Repository) CompleteItem(ctx context.Context, itemID string, attempts int, now time.Time) error {
	query := `
		UPDATE campaign_queue
		SET status = 'completed', attempts = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := r.db.Exec(ctx, query, itemID, attempts, now); err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	return nil
}

// RetryItem returns a processing item to pending with a new schedule.
func (r *Repository) RetryItem(ctx context.Context, itemID string, attempts int, nextAt time.Time, errMsg string, now time.Time) error {
	query := `
		UPDATE campaign_queue
		SET status = 'pending',
		    attempts = $2,
		    scheduled_for = $3,
		    error_message = $4,
		    last_error_at = $5,
		    metadata = metadata || jsonb_build_object('last_error', $4::text),
		    updated_at = $5
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := r.db.Exec(ctx, query, itemID, attempts, nextAt, errMsg, now); err != nil {
		return fmt.Errorf("retry item: %w", err)
	}
	return nil
}

// FailItem marks an item as failed for good. Items already in a terminal
// status are left alone.
func (r *Repository) FailItem(ctx context.Context, itemID string, attempts int, errMsg string, now time.Time) error {
	query := `
		UPDATE campaign_queue
		SET status = 'failed',
		    attempts = $2,
		    error_message = $3,
		    last_error_at = $4,
		    metadata = metadata || jsonb_build_object('last_error', $3::text),
		    updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	if _, err := r.db.Exec(ctx, query, itemID, attempts, errMsg, now); err != nil {
		return fmt.Errorf("fail item: %w", err)
	}
	return nil
}

// FailItems marks pending items as failed without touching their attempt
// counters and returns the ids it changed. Items claimed by another batch
// are skipped.
func (r *Repository) FailItems(ctx context.Context, itemIDs []string, errMsg string, now time.Time) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE campaign_queue
		SET status = 'failed',
		    error_message = $2,
		    last_error_at = $3,
		    metadata = metadata || jsonb_build_object('last_error', $2::text),
		    updated_at = $3
		WHERE id = ANY($1::uuid[]) AND status = 'pending'
		RETURNING id::text
	`
	rows, err := r.db.Query(ctx, query, itemIDs, errMsg, now)
	if err != nil {
		return nil, fmt.Errorf("fail items: %w", err)
	}

	failed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("fail items: %w", err)
	}
	return failed, nil
}

// CountQueueItems counts the queue items of a campaign by status.
func (r *Repository) CountQueueItems(ctx context.Context, campaignID string) (domain.QueueCounts, error) {
	query := `SELECT` + countColumns + `FROM campaign_queue WHERE campaign_id = $1`

	counts, err := scanCounts(r.db.QueryRow(ctx, query, campaignID))
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("count queue items: %w", err)
	}
	return counts, nil
}

// CompanyQueueCounts counts queue items of a company by status. An empty
// company id counts the whole queue.
func (r *Repository) CompanyQueueCounts(ctx context.Context, companyID string) (domain.QueueCounts, error) {
	var row pgx.Row
	if companyID == "" {
		row = r.db.QueryRow(ctx, `SELECT`+countColumns+`FROM campaign_queue`)
	} else {
		row = r.db.QueryRow(ctx, `SELECT`+countColumns+`FROM campaign_queue WHERE company_id = $1`, companyID)
	}

	counts, err := scanCounts(row)
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("company queue counts: %w", err)
	}
	return counts, nil
}

const countColumns = `
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'pending'),
	COUNT(*) FILTER (WHERE status = 'processing'),
	COUNT(*) FILTER (WHERE status = 'completed'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COUNT(*) FILTER (WHERE status = 'cancelled')
	`

func scanCounts(row scanner) (domain.QueueCounts, error) {
	var c domain.QueueCounts
	err := row.Scan(&c.Total, &c.Pending, &c.Processing, &c.Completed, &c.Failed, &c.Cancelled)
	return c, err
}

// DeleteFailedItems removes failed items of a company whose last error is
// older than before.
func (r *Repository) DeleteFailedItems(ctx context.Context, companyID string, before time.Time) (int64, error) {
	query := `
		DELETE FROM campaign_queue
		WHERE company_id = $1
		  AND status = 'failed'
		  AND COALESCE(last_error_at, updated_at) < $2
	`
	result, err := r.db.Exec(ctx, query, companyID, before)
	if err != nil {
		return 0, fmt.Errorf("delete failed items: %w", err)
	}
	return result.RowsAffected(), nil
}

// ConnectionUsage reports completed sends per connection of a company.
func (r *Repository) ConnectionUsage(ctx context.Context, companyID string, connectionIDs []string, dayStart, hourStart time.Time) (map[string]dispatch.ConnectionUsage, error) {
	usage := make(map[string]dispatch.ConnectionUsage, len(connectionIDs))
	if len(connectionIDs) == 0 {
		return usage, nil
	}

	query := `
		SELECT account_id,
		       COUNT(*) FILTER (WHERE completed_at >= $3),
		       COUNT(*) FILTER (WHERE completed_at >= $4),
		       MAX(completed_at)
		FROM campaign_queue
		WHERE company_id = $1
		  AND account_id = ANY($2::uuid[])
		  AND status = 'completed'
		GROUP BY account_id
	`
	rows, err := r.db.Query(ctx, query, companyID, connectionIDs, dayStart, hourStart)
	if err != nil {
		return nil, fmt.Errorf("connection usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var u dispatch.ConnectionUsage
		if err := rows.Scan(&id, &u.Today, &u.ThisHour, &u.LastSentAt); err != nil {
			return nil, fmt.Errorf("scan connection usage: %w", err)
		}
		usage[id] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection usage: %w", err)
	}

	return usage, nil
}

// GetConnection retrieves a channel connection by ID.
func (r *Repository) GetConnection(ctx context.Context, id string) (*domain.ChannelConnection, error) {
	query := `
		SELECT id, company_id, user_id, account_name, channel_type, status, connection_data
		FROM channel_connections
		WHERE id = $1
	`
	conn, err := scanConnection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispatch.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

// GetConnections retrieves the existing connections among ids.
func (r *Repository) GetConnections(ctx context.Context, ids []string) ([]*domain.ChannelConnection, error) {
	conns := make([]*domain.ChannelConnection, 0, len(ids))
	if len(ids) == 0 {
		return conns, nil
	}

	query := `
		SELECT id, company_id, user_id, account_name, channel_type, status, connection_data
		FROM channel_connections
		WHERE id = ANY($1::uuid[])
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	return conns, nil
}

func scanConnection(row scanner) (*domain.ChannelConnection, error) {
	var conn domain.ChannelConnection
	err := row.Scan(
		&conn.ID,
		&conn.CompanyID,
		&conn.UserID,
		&conn.AccountName,
		&conn.ChannelType,
		&conn.Status,
		&conn.Data,
	)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
