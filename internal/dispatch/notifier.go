package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// EventKind identifies a progress event.
type EventKind string

// Progress event kinds.
const (
	EventMessageSent       EventKind = "message_sent"
	EventMessageFailed     EventKind = "message_failed"
	EventCampaignCompleted EventKind = "campaign_completed"
)

// Event is a campaign progress notification.
type Event struct {
	Kind               EventKind            `json:"type"`
	CampaignID         string               `json:"campaignId"`
	CompanyID          string               `json:"companyId"`
	QueueItemID        string               `json:"queueItemId,omitempty"`
	RecipientID        string               `json:"recipientId,omitempty"`
	MessageID          string               `json:"messageId,omitempty"`
	Error              string               `json:"error,omitempty"`
	Stats              domain.CampaignStats `json:"stats"`
	ProgressPercentage int                  `json:"progressPercentage"`
	OccurredAt         time.Time            `json:"occurredAt"`
}

// Notifier receives progress events. Notify must not block dispatch on
// delivery problems.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// AnalyticsRecorder stores a point-in-time snapshot of campaign counters.
type AnalyticsRecorder interface {
	Snapshot(ctx context.Context, campaignID string) error
}

// LogNotifier writes progress events to the structured log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, e Event) {
	slog.Info("campaign progress",
		"event", e.Kind,
		"campaign_id", e.CampaignID,
		"item_id", e.QueueItemID,
		"processed", e.Stats.ProcessedRecipients,
		"total", e.Stats.TotalRecipients,
		"progress", e.ProgressPercentage,
	)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

// Notifiers fans an event out to every notifier in order.
func Notifiers(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

type nopAnalytics struct{}

func (nopAnalytics) Snapshot(context.Context, string) error { return nil }
