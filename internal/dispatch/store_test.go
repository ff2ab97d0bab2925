package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// memStore is an in-memory Repository for dispatcher tests.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string]*domain.Recipient
	items      map[string]*domain.QueueItem
	conns      map[string]*domain.ChannelConnection
	usage      map[string]ConnectionUsage
	retries    []retryRecord
	fetchErr   error
}

type retryRecord struct {
	itemID   string
	attempts int
	nextAt   time.Time
	at       time.Time
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string]*domain.Recipient),
		items:      make(map[string]*domain.QueueItem),
		conns:      make(map[string]*domain.ChannelConnection),
	}
}

func (m *memStore) addCampaign(c *domain.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
}

func (m *memStore) addConnection(c *domain.ChannelConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID] = c
}

// addRecipientItem adds a recipient and its queue item to a campaign.
func (m *memStore) addRecipientItem(campaignID, itemID string, priority int, scheduledFor time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.campaigns[campaignID]
	recipientID := "r-" + itemID
	m.recipients[recipientID] = &domain.Recipient{
		ID:         recipientID,
		CampaignID: campaignID,
		Name:       "Name " + itemID,
		Phone:      "1555000" + itemID,
		Email:      itemID + "@example.com",
		Status:     domain.RecipientStatusPending,
	}
	m.items[itemID] = &domain.QueueItem{
		ID:           itemID,
		CampaignID:   campaignID,
		CompanyID:    c.CompanyID,
		RecipientID:  recipientID,
		Status:       domain.QueueStatusPending,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		MaxAttempts:  3,
	}
}

func (m *memStore) item(id string) domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memStore) recipient(id string) domain.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recipients[id]
}

func (m *memStore) campaign(id string) domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memStore) retryLog() []retryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]retryRecord(nil), m.retries...)
}

func (m *memStore) ConnectionUsage(_ context.Context, companyID string, ids []string, dayStart, hourStart time.Time) (map[string]ConnectionUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ConnectionUsage, len(ids))
	if m.usage != nil {
		for _, id := range ids {
			if u, ok := m.usage[id]; ok {
				out[id] = u
			}
		}
		return out, nil
	}

	for _, it := range m.items {
		if it.CompanyID != companyID || it.Status != domain.QueueStatusCompleted || it.AccountID == nil || it.CompletedAt == nil {
			continue
		}
		u := out[*it.AccountID]
		if !it.CompletedAt.Before(dayStart) {
			u.Today++
		}
		if !it.CompletedAt.Before(hourStart) {
			u.ThisHour++
		}
		if u.LastSentAt == nil || it.CompletedAt.After(*u.LastSentAt) {
			t := *it.CompletedAt
			u.LastSentAt = &t
		}
		out[*it.AccountID] = u
	}
	return out, nil
}

func (m *memStore) FetchDueItems(_ context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	var due []*domain.QueueItem
	for _, it := range m.items {
		c := m.campaigns[it.CampaignID]
		if it.Status != domain.QueueStatusPending || it.ScheduledFor.After(now) || c == nil || c.Status != domain.CampaignStatusRunning {
			continue
		}
		cp := *it
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ClaimItem(_ context.Context, itemID, connectionID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.items[itemID]
	if it == nil || it.Status != domain.QueueStatusPending {
		return false, nil
	}
	it.Status = domain.QueueStatusProcessing
	it.AccountID = &connectionID
	it.StartedAt = &now
	return true, nil
}

func (m *memStore) SetItemMetadata(_ context.Context, itemID string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemID].Metadata = metadata
	return nil
}

func (m *memStore) CompleteItem(_ context.Context, itemID string, attempts int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.items[itemID]
	if it.Status != domain.QueueStatusProcessing {
		return nil
	}
	it.Status = domain.QueueStatusCompleted
	it.Attempts = attempts
	it.CompletedAt = &now
	return nil
}

func (m *memStore) RetryItem(_ context.Context, itemID string, attempts int, nextAt time.Time, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.items[itemID]
	if it.Status != domain.QueueStatusProcessing {
		return nil
	}
	it.Status = domain.QueueStatusPending
	it.Attempts = attempts
	it.ScheduledFor = nextAt
	it.ErrorMessage = errMsg
	it.LastErrorAt = &now
	m.retries = append(m.retries, retryRecord{itemID: itemID, attempts: attempts, nextAt: nextAt, at: now})
	return nil
}

func (m *memStore) FailItem(_ context.Context, itemID string, attempts int, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.items[itemID]
	if it.Status != domain.QueueStatusPending && it.Status != domain.QueueStatusProcessing {
		return nil
	}
	it.Status = domain.QueueStatusFailed
	it.Attempts = attempts
	it.ErrorMessage = errMsg
	it.LastErrorAt = &now
	return nil
}

func (m *memStore) FailItems(_ context.Context, itemIDs []string, errMsg string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []string
	for _, id := range itemIDs {
		it := m.items[id]
		if it.Status != domain.QueueStatusPending {
			continue
		}
		it.Status = domain.QueueStatusFailed
		it.ErrorMessage = errMsg
		it.LastErrorAt = &now
		failed = append(failed, id)
	}
	return failed, nil
}

func (m *memStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCampaignsByStatus(_ context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RefreshCampaignStats(_ context.Context, campaignID string) (domain.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s domain.CampaignStats
	for _, r := range m.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		s.TotalRecipients++
		switch r.Status {
		case domain.RecipientStatusSent, domain.RecipientStatusDelivered:
			s.SuccessfulSends++
		case domain.RecipientStatusFailed:
			s.FailedSends++
		}
	}
	s.ProcessedRecipients = s.SuccessfulSends + s.FailedSends

	c := m.campaigns[campaignID]
	c.TotalRecipients = s.TotalRecipients
	c.ProcessedRecipients = s.ProcessedRecipients
	c.SuccessfulSends = s.SuccessfulSends
	c.FailedSends = s.FailedSends
	return s, nil
}

func (m *memStore) CountQueueItems(_ context.Context, campaignID string) (domain.QueueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c domain.QueueCounts
	for _, it := range m.items {
		if it.CampaignID == campaignID {
			countStatus(&c, it.Status)
		}
	}
	return c, nil
}

func countStatus(c *domain.QueueCounts, s domain.QueueStatus) {
	c.Total++
	switch s {
	case domain.QueueStatusPending:
		c.Pending++
	case domain.QueueStatusProcessing:
		c.Processing++
	case domain.QueueStatusCompleted:
		c.Completed++
	case domain.QueueStatusFailed:
		c.Failed++
	case domain.QueueStatusCancelled:
		c.Cancelled++
	}
}

func (m *memStore) CompleteCampaign(_ context.Context, campaignID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.campaigns[campaignID]
	if c == nil || c.Status != domain.CampaignStatusRunning {
		return false, nil
	}
	c.Status = domain.CampaignStatusCompleted
	c.CompletedAt = &now
	return true, nil
}

func (m *memStore) TransitionCampaign(_ context.Context, campaignID string, from, to domain.CampaignStatus, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if to == domain.CampaignStatusPaused {
		c.PausedAt = &now
	} else {
		c.PausedAt = nil
	}
	return true, nil
}

func (m *memStore) CancelCampaign(_ context.Context, campaignID string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return 0, ErrCampaignNotFound
	}
	if c.Status.IsTerminal() {
		return 0, ErrInvalidTransition
	}

	var n int64
	for _, it := range m.items {
		if it.CampaignID == campaignID && it.Status == domain.QueueStatusPending {
			it.Status = domain.QueueStatusCancelled
			if r := m.recipients[it.RecipientID]; r != nil && r.Status == domain.RecipientStatusPending {
				r.Status = domain.RecipientStatusCancelled
			}
			n++
		}
	}
	c.Status = domain.CampaignStatusCancelled
	return n, nil
}

func (m *memStore) GetRecipients(_ context.Context, ids []string) ([]*domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Recipient
	for _, id := range ids {
		if r, ok := m.recipients[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkRecipientSent(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.recipients[id]
	r.Status = domain.RecipientStatusSent
	r.SentAt = &now
	return nil
}

func (m *memStore) MarkRecipientFailed(_ context.Context, id, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.recipients[id]
	r.Status = domain.RecipientStatusFailed
	r.ErrorMessage = errMsg
	r.FailedAt = &now
	return nil
}

func (m *memStore) MarkRecipientsFailed(_ context.Context, ids []string, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if r, ok := m.recipients[id]; ok {
			r.Status = domain.RecipientStatusFailed
			r.ErrorMessage = errMsg
			r.FailedAt = &now
		}
	}
	return nil
}

func (m *memStore) GetConnection(_ context.Context, id string) (*domain.ChannelConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[id]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetConnections(_ context.Context, ids []string) ([]*domain.ChannelConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.ChannelConnection
	for _, id := range ids {
		if c, ok := m.conns[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CompanyQueueCounts(_ context.Context, companyID string) (domain.QueueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c domain.QueueCounts
	for _, it := range m.items {
		if companyID == "" || it.CompanyID == companyID {
			countStatus(&c, it.Status)
		}
	}
	return c, nil
}

func (m *memStore) DeleteFailedItems(_ context.Context, companyID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, it := range m.items {
		if it.CompanyID == companyID && it.Status == domain.QueueStatusFailed && it.LastErrorAt != nil && it.LastErrorAt.Before(before) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

// fakeClock is a manually advanced clock whose sleeps advance time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.Advance(d)
	return ctx.Err()
}

type sentMessage struct {
	connectionID string
	to           string
	text         string
	media        *Media
}

// fakeSender records sends and replays scripted failures per recipient phone.
type fakeSender struct {
	typ domain.ChannelType

	mu       sync.Mutex
	sent     []sentMessage
	failures map[string][]error
	seq      int

	// block, when set, holds every send until closed; entered is signalled first.
	block   chan struct{}
	entered chan struct{}
}

func newFakeSender(typ domain.ChannelType) *fakeSender {
	return &fakeSender{typ: typ, failures: make(map[string][]error)}
}

func (f *fakeSender) Type() domain.ChannelType { return f.typ }

func (f *fakeSender) failNext(phone string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[phone] = append(f.failures[phone], errs...)
}

func (f *fakeSender) send(conn *domain.ChannelConnection, to, text string, media *Media) (*SendResult, error) {
	if f.block != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.failures[to]; len(errs) > 0 {
		f.failures[to] = errs[1:]
		return nil, errs[0]
	}
	f.seq++
	f.sent = append(f.sent, sentMessage{connectionID: conn.ID, to: to, text: text, media: media})
	return &SendResult{MessageID: fmt.Sprintf("msg-%d", f.seq)}, nil
}

func (f *fakeSender) SendText(_ context.Context, conn *domain.ChannelConnection, to, text string) (*SendResult, error) {
	return f.send(conn, to, text, nil)
}

func (f *fakeSender) SendMedia(_ context.Context, conn *domain.ChannelConnection, to string, media Media) (*SendResult, error) {
	m := media
	return f.send(conn, to, "", &m)
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// recordingNotifier keeps every event it receives.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type countingAnalytics struct {
	mu        sync.Mutex
	snapshots map[string]int
}

func (a *countingAnalytics) Snapshot(_ context.Context, campaignID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snapshots == nil {
		a.snapshots = make(map[string]int)
	}
	a.snapshots[campaignID]++
	return nil
}

func (a *countingAnalytics) count(campaignID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshots[campaignID]
}

func strPtr(s string) *string { return &s }
