package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
)

// AnalyticsSnapshot is one recorded progress point of a campaign.
type AnalyticsSnapshot struct {
	CampaignID          string
	TotalRecipients     int
	ProcessedRecipients int
	SuccessfulSends     int
	FailedSends         int
	PendingItems        int
	ProgressPercentage  int
	RecordedAt          time.Time
}

var _ dispatch.AnalyticsRecorder = (*Repository)(nil)

// Snapshot records the current progress of a campaign.
func (r *Repository) Snapshot(ctx context.Context, campaignID string) error {
	query := `
		INSERT INTO campaign_analytics (
			campaign_id, company_id, total_recipients, processed_recipients,
			successful_sends, failed_sends, pending_items, progress_percentage
		)
		SELECT c.id, c.company_id, c.total_recipients, c.processed_recipients,
		       c.successful_sends, c.failed_sends,
		       (SELECT COUNT(*) FROM campaign_queue q
		        WHERE q.campaign_id = c.id AND q.status IN ('pending', 'processing')),
		       CASE WHEN c.total_recipients > 0
		            THEN ROUND(c.processed_recipients * 100.0 / c.total_recipients)
		            ELSE 0 END
		FROM campaigns c
		WHERE c.id = $1
	`
	result, err := r.db.Exec(ctx, query, campaignID)
	if err != nil {
		return fmt.Errorf("record analytics: %w", err)
	}
	if result.RowsAffected() == 0 {
		return dispatch.ErrCampaignNotFound
	}
	return nil
}

// LatestSnapshot returns the most recent analytics point of a campaign.
func (r *Repository) LatestSnapshot(ctx context.Context, campaignID string) (*AnalyticsSnapshot, error) {
	query := `
		SELECT campaign_id, total_recipients, processed_recipients, successful_sends,
		       failed_sends, pending_items, progress_percentage, recorded_at
		FROM campaign_analytics
		WHERE campaign_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`
	var s AnalyticsSnapshot
	err := r.db.QueryRow(ctx, query, campaignID).Scan(
		&s.CampaignID,
		&s.TotalRecipients,
		&s.ProcessedRecipients,
		&s.SuccessfulSends,
		&s.FailedSends,
		&s.PendingItems,
		&s.ProgressPercentage,
		&s.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("latest analytics: %w", err)
	}
	return &s, nil
}
