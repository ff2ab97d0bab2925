// Package dispatch turns the durable campaign queue into throttled, retried
// sends over channel connections and keeps campaign progress consistent.
package dispatch

import (
	"context"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// Repository defines the data access the dispatcher needs from the campaign store.
type Repository interface {
	UsageSource

	// Queue scanning and item transitions
	FetchDueItems(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error)
	ClaimItem(ctx context.Context, itemID, connectionID string, now time.Time) (bool, error)
	SetItemMetadata(ctx context.Context, itemID string, metadata map[string]string) error
	CompleteItem(ctx context.Context, itemID string, attempts int, now time.Time) error
	RetryItem(ctx context.Context, itemID string, attempts int, nextAt time.Time, errMsg string, now time.Time) error
	FailItem(ctx context.Context, itemID string, attempts int, errMsg string, now time.Time) error
	FailItems(ctx context.Context, itemIDs []string, errMsg string, now time.Time) ([]string, error)

	// Campaigns
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error)
	RefreshCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
	CountQueueItems(ctx context.Context, campaignID string) (domain.QueueCounts, error)
	CompleteCampaign(ctx context.Context, campaignID string, now time.Time) (bool, error)
	TransitionCampaign(ctx context.Context, campaignID string, from, to domain.CampaignStatus, now time.Time) (bool, error)
	CancelCampaign(ctx context.Context, campaignID string, now time.Time) (int64, error)

	// Recipients
	GetRecipients(ctx context.Context, ids []string) ([]*domain.Recipient, error)
	MarkRecipientSent(ctx context.Context, id string, now time.Time) error
	MarkRecipientFailed(ctx context.Context, id, errMsg string, now time.Time) error
	MarkRecipientsFailed(ctx context.Context, ids []string, errMsg string, now time.Time) error

	// Connections
	GetConnection(ctx context.Context, id string) (*domain.ChannelConnection, error)
	GetConnections(ctx context.Context, ids []string) ([]*domain.ChannelConnection, error)

	// Company-wide maintenance
	CompanyQueueCounts(ctx context.Context, companyID string) (domain.QueueCounts, error)
	DeleteFailedItems(ctx context.Context, companyID string, before time.Time) (int64, error)
}

// UsageSource reports completed sends per connection for account scoring.
type UsageSource interface {
	ConnectionUsage(ctx context.Context, companyID string, connectionIDs []string, dayStart, hourStart time.Time) (map[string]ConnectionUsage, error)
}

// ConnectionUsage is the completed send history of one connection.
type ConnectionUsage struct {
	Today      int
	ThisHour   int
	LastSentAt *time.Time
}
