package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now Clock) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper replaces the context aware sleep used for throttling pauses.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithRand sets the random source used for delays and simple rotation.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = newLockedRand(r) }
}

// WithUsageLedger mirrors connection counters to an external ledger.
func WithUsageLedger(l UsageLedger) Option {
	return func(s *Scheduler) { s.ledger = l }
}

// WithAnalytics sets the analytics recorder.
func WithAnalytics(a AnalyticsRecorder) Option {
	return func(s *Scheduler) { s.analytics = a }
}

// ProcessingStatus describes what the scheduler is doing right now.
type ProcessingStatus struct {
	IsProcessing          bool           `json:"isProcessing"`
	ConcurrentConnections int            `json:"concurrentConnections"`
	ActivePools           int            `json:"activePools"`
	Pools                 []PoolSnapshot `json:"pools"`
}

// Scheduler is the process-wide driver of campaign dispatch.
type Scheduler struct {
	config    Config
	repo      Repository
	senders   *Registry
	notifier  Notifier
	analytics AnalyticsRecorder
	ledger    UsageLedger
	now       Clock
	sleep     Sleeper
	rng       *lockedRand

	pools      *Pools
	selector   *Selector
	dispatcher *Dispatcher
	completion *CompletionWatcher

	running atomic.Bool
	cancel  context.CancelFunc
	cron    *cron.Cron
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
	tickWg  sync.WaitGroup
}

// NewScheduler creates a scheduler. notifier may be nil.
func NewScheduler(config Config, repo Repository, senders *Registry, notifier Notifier, opts ...Option) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	s := &Scheduler{
		config:    config,
		repo:      repo,
		senders:   senders,
		notifier:  notifier,
		analytics: nopAnalytics{},
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = newLockedRand(nil)
	}

	loc := config.location()
	s.pools = NewPools(config.Connection, s.ledger, s.now, loc)
	s.selector = NewSelector(repo, config.CappedFallback, s.rng.IntN, s.now, loc)
	s.dispatcher = &Dispatcher{
		config:   config,
		repo:     repo,
		senders:  senders,
		pools:    s.pools,
		notifier: notifier,
		now:      s.now,
		sleep:    s.sleep,
		intn:     s.rng.IntN,
	}
	s.completion = NewCompletionWatcher(repo, s.analytics, notifier, s.now)
	return s
}

// Start launches the dispatch loop and the periodic maintenance jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(s.config.location()))

	runCtx, cancel := context.WithCancel(ctx)

	if _, err := c.AddFunc(s.config.CleanupSchedule, func() { s.EvictIdlePools() }); err != nil {
		cancel()
		s.running.Store(false)
		return fmt.Errorf("schedule pool cleanup: %w", err)
	}
	if s.config.AnalyticsSchedule != "" {
		if _, err := c.AddFunc(s.config.AnalyticsSchedule, func() { s.RecordAnalytics(runCtx) }); err != nil {
			cancel()
			s.running.Store(false)
			return fmt.Errorf("schedule analytics snapshots: %w", err)
		}
	}

	s.cancel = cancel
	s.cron = c
	s.stopCh = make(chan struct{})

	slog.Info("starting campaign dispatcher",
		"tick_interval", s.config.TickInterval,
		"scan_limit", s.config.ScanLimit,
		"max_concurrent_connections", s.config.MaxConcurrentConnections,
	)

	c.Start()
	s.loopWg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop halts the loop, waits for in-flight connection batches and clears pools.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.cron.Stop().Done()
	s.loopWg.Wait()
	s.cancel()
	s.tickWg.Wait()
	s.pools.Clear()
	slog.Info("campaign dispatcher stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			// Ticks may overlap; the pool guard keeps one batch per connection.
			s.tickWg.Add(1)
			go func() {
				defer s.tickWg.Done()
				s.Tick(ctx)
			}()
		}
	}
}

type connectionGroup struct {
	connectionID string
	items        []*domain.QueueItem
}

// Tick scans due items, resolves connections, dispatches connection groups
// with bounded concurrency and then runs the completion watcher.
func (s *Scheduler) Tick(ctx context.Context) {
	s.dispatchDue(ctx)
	s.completion.Check(ctx)
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	items, err := s.repo.FetchDueItems(ctx, s.now(), s.config.ScanLimit)
	if err != nil {
		slog.Error("failed to fetch due queue items", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	start := time.Now()
	defer func() { recordTick(time.Since(start)) }()

	campaigns := make(map[string]*domain.Campaign)
	resolved := make(map[string]*domain.ChannelConnection)
	unresolved := make(map[string]error)

	var groups []*connectionGroup
	groupIndex := make(map[string]*connectionGroup)
	var orphaned []*domain.QueueItem

	for _, item := range items {
		conn, err := s.campaignConnection(ctx, item.CampaignID, campaigns, resolved, unresolved)
		if err != nil {
			if errors.Is(err, ErrNoEligibleConnection) {
				orphaned = append(orphaned, item)
			}
			continue
		}

		g, ok := groupIndex[conn.ID]
		if !ok {
			g = &connectionGroup{connectionID: conn.ID}
			groupIndex[conn.ID] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}

	if len(orphaned) > 0 {
		s.dispatcher.failBulk(context.WithoutCancel(ctx), orphaned, campaigns, ErrNoEligibleConnection.Error())
	}

	limit := s.config.MaxConcurrentConnections
	if limit <= 0 {
		limit = 1
	}

	for i := 0; i < len(groups); i += limit {
		if ctx.Err() != nil {
			return
		}
		batch := groups[i:min(i+limit, len(groups))]

		var g errgroup.Group
		for _, group := range batch {
			g.Go(func() error {
				s.runConnection(ctx, group, campaigns)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// campaignConnection resolves a campaign's connection once per tick.
func (s *Scheduler) campaignConnection(ctx context.Context, campaignID string, campaigns map[string]*domain.Campaign, resolved map[string]*domain.ChannelConnection, unresolved map[string]error) (*domain.ChannelConnection, error) {
	if conn, ok := resolved[campaignID]; ok {
		return conn, nil
	}
	if err, ok := unresolved[campaignID]; ok {
		return nil, err
	}

	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		slog.Error("failed to load campaign", "campaign_id", campaignID, "error", err)
		unresolved[campaignID] = err
		return nil, err
	}
	campaigns[campaignID] = campaign

	conn, err := s.resolveConnection(ctx, campaign)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoEligibleConnection):
			slog.Warn("campaign has no usable connection", "campaign_id", campaignID)
		case errors.Is(err, ErrConnectionsCapped):
			slog.Info("all campaign connections capped, waiting", "campaign_id", campaignID)
		default:
			slog.Error("failed to resolve campaign connection", "campaign_id", campaignID, "error", err)
		}
		unresolved[campaignID] = err
		return nil, err
	}

	resolved[campaignID] = conn
	return conn, nil
}

func (s *Scheduler) runConnection(ctx context.Context, group *connectionGroup, campaigns map[string]*domain.Campaign) {
	if !s.pools.TryAcquire(ctx, group.connectionID) {
		slog.Debug("connection busy or throttled, skipping", "connection_id", group.connectionID, "items", len(group.items))
		return
	}
	defer s.pools.Release(group.connectionID)

	s.dispatcher.processConnection(ctx, group.connectionID, group.items, campaigns)
}

// EvictIdlePools drops connection pools idle longer than the configured TTL.
func (s *Scheduler) EvictIdlePools() int {
	n := s.pools.Evict(s.config.PoolIdleTTL)
	if n > 0 {
		slog.Debug("evicted idle connection pools", "count", n)
	}
	return n
}

// RecordAnalytics snapshots every running campaign.
func (s *Scheduler) RecordAnalytics(ctx context.Context) {
	campaigns, err := s.repo.ListCampaignsByStatus(ctx, domain.CampaignStatusRunning)
	if err != nil {
		slog.Error("failed to list running campaigns", "error", err)
		return
	}
	for _, c := range campaigns {
		if err := s.analytics.Snapshot(ctx, c.ID); err != nil {
			slog.Warn("failed to record analytics snapshot", "campaign_id", c.ID, "error", err)
		}
	}
}

// Status returns the current processing status.
func (s *Scheduler) Status() ProcessingStatus {
	return ProcessingStatus{
		IsProcessing:          s.running.Load(),
		ConcurrentConnections: s.pools.Busy(),
		ActivePools:           s.pools.Len(),
		Pools:                 s.pools.Snapshot(),
	}
}
