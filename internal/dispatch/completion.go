package dispatch

import (
	"context"
	"log/slog"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// CompletionWatcher flips drained running campaigns to completed.
type CompletionWatcher struct {
	repo      Repository
	analytics AnalyticsRecorder
	notifier  Notifier
	now       Clock
}

// NewCompletionWatcher creates a completion watcher.
func NewCompletionWatcher(repo Repository, analytics AnalyticsRecorder, notifier Notifier, now Clock) *CompletionWatcher {
	if analytics == nil {
		analytics = nopAnalytics{}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &CompletionWatcher{
		repo:      repo,
		analytics: analytics,
		notifier:  notifier,
		now:       now,
	}
}

// Check completes every running campaign that has queue items and none
// outstanding. It returns the number of campaigns completed.
func (w *CompletionWatcher) Check(ctx context.Context) int {
	campaigns, err := w.repo.ListCampaignsByStatus(ctx, domain.CampaignStatusRunning)
	if err != nil {
		slog.Error("failed to list running campaigns", "error", err)
		return 0
	}

	completed := 0
	for _, c := range campaigns {
		counts, err := w.repo.CountQueueItems(ctx, c.ID)
		if err != nil {
			slog.Error("failed to count queue items", "campaign_id", c.ID, "error", err)
			continue
		}
		if !counts.Drained() {
			continue
		}

		now := w.now()
		changed, err := w.repo.CompleteCampaign(ctx, c.ID, now)
		if err != nil {
			slog.Error("failed to complete campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		completed++
		campaignsCompleted.Inc()

		if err := w.analytics.Snapshot(ctx, c.ID); err != nil {
			slog.Warn("failed to record analytics snapshot", "campaign_id", c.ID, "error", err)
		}

		stats := domain.CampaignStats{
			TotalRecipients:     counts.Total,
			ProcessedRecipients: counts.Completed + counts.Failed,
			SuccessfulSends:     counts.Completed,
			FailedSends:         counts.Failed,
		}
		w.notifier.Notify(ctx, Event{
			Kind:               EventCampaignCompleted,
			CampaignID:         c.ID,
			CompanyID:          c.CompanyID,
			Stats:              stats,
			ProgressPercentage: stats.ProgressPercentage(),
			OccurredAt:         now,
		})

		slog.Info("campaign completed",
			"campaign_id", c.ID,
			"successful", counts.Completed,
			"failed", counts.Failed,
			"cancelled", counts.Cancelled,
		)
	}
	return completed
}
