package dispatch

import (
	"context"
	"log/slog"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// handleFailure retries the item with backoff or fails it terminally.
func (d *Dispatcher) handleFailure(ctx context.Context, conn *domain.ChannelConnection, campaign *domain.Campaign, item *domain.QueueItem, recipient *domain.Recipient, err error) {
	attempts := item.Attempts + 1
	maxAttempts := d.config.Retry.maxAttemptsFor(item.MaxAttempts)

	slog.Warn("send failed",
		"item_id", item.ID,
		"campaign_id", campaign.ID,
		"connection_id", conn.ID,
		"attempt", attempts,
		"max_attempts", maxAttempts,
		"error", err,
	)

	if !isRetryable(err) {
		d.failTerminal(ctx, campaign, item, recipient, attempts, err)
		recordItem(conn.ChannelType, "failed")
		return
	}

	now := d.now()
	retry, nextAt := d.config.Retry.Next(attempts, item.MaxAttempts, now)
	if !retry {
		d.failTerminal(ctx, campaign, item, recipient, attempts, err)
		recordItem(conn.ChannelType, "failed")
		return
	}

	if markErr := d.repo.RetryItem(ctx, item.ID, attempts, nextAt, err.Error(), now); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordItem(conn.ChannelType, "retry")

	slog.Info("queue item scheduled for retry",
		"item_id", item.ID,
		"attempt", attempts,
		"next_attempt", nextAt,
	)
}

// failTerminal fails one item for good and updates its recipient and campaign.
func (d *Dispatcher) failTerminal(ctx context.Context, campaign *domain.Campaign, item *domain.QueueItem, recipient *domain.Recipient, attempts int, cause error) {
	now := d.now()
	msg := cause.Error()

	if err := d.repo.FailItem(ctx, item.ID, attempts, msg, now); err != nil {
		slog.Error("failed to mark as failed", "item_id", item.ID, "error", err)
	}
	if recipient != nil {
		if err := d.repo.MarkRecipientFailed(ctx, recipient.ID, msg, now); err != nil {
			slog.Error("failed to mark recipient as failed", "recipient_id", recipient.ID, "error", err)
		}
	}

	stats, err := d.repo.RefreshCampaignStats(ctx, campaign.ID)
	if err != nil {
		slog.Error("failed to refresh campaign stats", "campaign_id", campaign.ID, "error", err)
	}

	d.notifier.Notify(ctx, Event{
		Kind:               EventMessageFailed,
		CampaignID:         campaign.ID,
		CompanyID:          campaign.CompanyID,
		QueueItemID:        item.ID,
		RecipientID:        item.RecipientID,
		Error:              msg,
		Stats:              stats,
		ProgressPercentage: stats.ProgressPercentage(),
		OccurredAt:         now,
	})
}

// failBulk fails items whose cause will not resolve by waiting, such as a
// missing or inactive connection. Attempts are left untouched.
func (d *Dispatcher) failBulk(ctx context.Context, items []*domain.QueueItem, campaigns map[string]*domain.Campaign, reason string) {
	if len(items) == 0 {
		return
	}
	now := d.now()

	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}

	failedIDs, err := d.repo.FailItems(ctx, itemIDs, reason, now)
	if err != nil {
		slog.Error("failed to mark items as failed", "count", len(itemIDs), "error", err)
		return
	}

	// Items another batch claimed in the meantime are no longer ours to fail.
	failed := make(map[string]bool, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = true
	}
	kept := make([]*domain.QueueItem, 0, len(failedIDs))
	recipientIDs := make([]string, 0, len(failedIDs))
	for _, item := range items {
		if failed[item.ID] {
			kept = append(kept, item)
			recipientIDs = append(recipientIDs, item.RecipientID)
		}
	}
	items = kept
	if len(items) == 0 {
		return
	}

	if err := d.repo.MarkRecipientsFailed(ctx, recipientIDs, reason, now); err != nil {
		slog.Error("failed to mark recipients as failed", "count", len(recipientIDs), "error", err)
	}

	stats := make(map[string]domain.CampaignStats)
	for _, item := range items {
		if _, done := stats[item.CampaignID]; done {
			continue
		}
		s, err := d.repo.RefreshCampaignStats(ctx, item.CampaignID)
		if err != nil {
			slog.Error("failed to refresh campaign stats", "campaign_id", item.CampaignID, "error", err)
		}
		stats[item.CampaignID] = s
	}

	slog.Warn("queue items failed in bulk", "count", len(items), "reason", reason)

	for _, item := range items {
		companyID := item.CompanyID
		if c, ok := campaigns[item.CampaignID]; ok {
			companyID = c.CompanyID
		}
		s := stats[item.CampaignID]
		d.notifier.Notify(ctx, Event{
			Kind:               EventMessageFailed,
			CampaignID:         item.CampaignID,
			CompanyID:          companyID,
			QueueItemID:        item.ID,
			RecipientID:        item.RecipientID,
			Error:              reason,
			Stats:              s,
			ProgressPercentage: s.ProgressPercentage(),
			OccurredAt:         now,
		})
		recordItem("", "failed")
	}
}
