package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/jackc/pgx/v5"
)

const campaignColumns = `
	id, company_id, name, status, content, media_urls, channel_id, channel_ids, anti_ban_settings,
	total_recipients, processed_recipients, successful_sends, failed_sends,
	started_at, paused_at, completed_at, created_at, updated_at`

func scanCampaign(row scanner) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID,
		&c.CompanyID,
		&c.Name,
		&c.Status,
		&c.Content,
		&c.MediaURLs,
		&c.ChannelID,
		&c.ChannelIDs,
		&c.AntiBan,
		&c.TotalRecipients,
		&c.ProcessedRecipients,
		&c.SuccessfulSends,
		&c.FailedSends,
		&c.StartedAt,
		&c.PausedAt,
		&c.CompletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaign retrieves a campaign by ID.
func (r *Repository) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispatch.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaignsByStatus returns campaigns in the given status.
func (r *Repository) ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := make([]*domain.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}

	return campaigns, nil
}

// RefreshCampaignStats recomputes campaign counters from recipient statuses
// in one statement and returns them.
func (r *Repository) RefreshCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	query := `
		WITH s AS (
			SELECT COUNT(*) AS total,
			       COUNT(*) FILTER (WHERE status IN ('sent', 'delivered')) AS successful,
			       COUNT(*) FILTER (WHERE status = 'failed') AS failed
			FROM campaign_recipients
			WHERE campaign_id = $1
		)
		UPDATE campaigns c
		SET total_recipients = s.total,
		    successful_sends = s.successful,
		    failed_sends = s.failed,
		    processed_recipients = s.successful + s.failed,
		    updated_at = NOW()
		FROM s
		WHERE c.id = $1
		RETURNING c.total_recipients, c.processed_recipients, c.successful_sends, c.failed_sends
	`
	var stats domain.CampaignStats
	err := r.db.QueryRow(ctx, query, campaignID).Scan(
		&stats.TotalRecipients,
		&stats.ProcessedRecipients,
		&stats.SuccessfulSends,
		&stats.FailedSends,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CampaignStats{}, dispatch.ErrCampaignNotFound
		}
		return domain.CampaignStats{}, fmt.Errorf("refresh campaign stats: %w", err)
	}
	return stats, nil
}

// CompleteCampaign marks a running campaign as completed. It returns false
// when the campaign is not running anymore.
func (r *Repository) CompleteCampaign(ctx context.Context, campaignID string, now time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'running'
	`
	result, err := r.db.Exec(ctx, query, campaignID, now)
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// TransitionCampaign moves a campaign from one status to another. It
// returns false when the campaign is missing or not in from.
func (r *Repository) TransitionCampaign(ctx context.Context, campaignID string, from, to domain.CampaignStatus, now time.Time) (bool, error) {
	var pausedAt *time.Time
	if to == domain.CampaignStatusPaused {
		pausedAt = &now
	}

	query := `
		UPDATE campaigns
		SET status = $3, paused_at = $4, updated_at = $5
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(ctx, query, campaignID, from, to, pausedAt, now)
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CancelCampaign cancels a campaign together with its pending items and
// recipients and returns the number of cancelled items.
func (r *Repository) CancelCampaign(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var status domain.CampaignStatus
	err = tx.QueryRow(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, dispatch.ErrCampaignNotFound
		}
		return 0, fmt.Errorf("lock campaign: %w", err)
	}
	if status.IsTerminal() {
		return 0, dispatch.ErrInvalidTransition
	}

	result, err := tx.Exec(ctx, `
		UPDATE campaign_queue
		SET status = 'cancelled', updated_at = $2
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID, now)
	if err != nil {
		return 0, fmt.Errorf("cancel queue items: %w", err)
	}
	cancelled := result.RowsAffected()

	if _, err := tx.Exec(ctx, `
		UPDATE campaign_recipients
		SET status = 'cancelled', updated_at = $2
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID, now); err != nil {
		return 0, fmt.Errorf("cancel recipients: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE campaigns SET status = 'cancelled', updated_at = $2 WHERE id = $1
	`, campaignID, now); err != nil {
		return 0, fmt.Errorf("cancel campaign: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return cancelled, nil
}
