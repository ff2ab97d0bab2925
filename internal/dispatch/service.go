package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// DefaultFailedRetention is how long failed queue items are kept by default.
const DefaultFailedRetention = 7 * 24 * time.Hour

// StatusProvider exposes the scheduler state.
type StatusProvider interface {
	Status() ProcessingStatus
}

// Service provides operator actions on campaigns and the queue.
type Service struct {
	repo   Repository
	status StatusProvider
	now    Clock
}

// NewService creates a new dispatch service. status may be nil when the
// scheduler does not run in this process.
func NewService(repo Repository, status StatusProvider) *Service {
	return &Service{
		repo:   repo,
		status: status,
		now:    time.Now,
	}
}

// Pause stops dispatch of a running campaign. In-flight items finish.
func (s *Service) Pause(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return s.transition(ctx, campaignID, domain.CampaignStatusRunning, domain.CampaignStatusPaused)
}

// Resume continues a paused campaign.
func (s *Service) Resume(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return s.transition(ctx, campaignID, domain.CampaignStatusPaused, domain.CampaignStatusRunning)
}

func (s *Service) transition(ctx context.Context, campaignID string, from, to domain.CampaignStatus) (*domain.Campaign, error) {
	changed, err := s.repo.TransitionCampaign(ctx, campaignID, from, to, s.now())
	if err != nil {
		return nil, fmt.Errorf("transition campaign: %w", err)
	}

	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if !changed {
		return nil, ErrInvalidTransition
	}

	slog.Info("campaign status changed", "campaign_id", campaignID, "from", from, "to", to)
	return campaign, nil
}

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	CampaignID     string `json:"campaign_id"`
	CancelledItems int64  `json:"cancelled_items"`
}

// Cancel cancels pending queue items and the campaign itself.
func (s *Service) Cancel(ctx context.Context, campaignID string) (*CancelResult, error) {
	n, err := s.repo.CancelCampaign(ctx, campaignID, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancel campaign: %w", err)
	}

	slog.Info("campaign cancelled", "campaign_id", campaignID, "cancelled_items", n)
	return &CancelResult{CampaignID: campaignID, CancelledItems: n}, nil
}

// QueueStats returns queue counts of a company.
func (s *Service) QueueStats(ctx context.Context, companyID string) (domain.QueueCounts, error) {
	counts, err := s.repo.CompanyQueueCounts(ctx, companyID)
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("queue counts: %w", err)
	}
	return counts, nil
}

// ClearFailed deletes failed items of a company whose last error is older
// than the retention. A non-positive retention uses DefaultFailedRetention.
func (s *Service) ClearFailed(ctx context.Context, companyID string, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultFailedRetention
	}
	n, err := s.repo.DeleteFailedItems(ctx, companyID, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete failed items: %w", err)
	}
	return n, nil
}

// Status returns the scheduler processing status.
func (s *Service) Status() ProcessingStatus {
	if s.status == nil {
		return ProcessingStatus{Pools: []PoolSnapshot{}}
	}
	return s.status.Status()
}
