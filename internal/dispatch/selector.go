package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// Account scoring constants.
const (
	baseScore              = 100
	defaultCooldownMinutes = 30
)

// Selector picks the connection a campaign should send through next.
type Selector struct {
	usage  UsageSource
	policy FallbackPolicy
	intn   func(n int) int
	now    Clock
	loc    *time.Location
}

// NewSelector creates an account selector.
func NewSelector(usage UsageSource, policy FallbackPolicy, intn func(n int) int, now Clock, loc *time.Location) *Selector {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	if policy == "" {
		policy = FallbackBestEffort
	}
	if intn == nil {
		intn = rand.IntN
	}
	return &Selector{
		usage:  usage,
		policy: policy,
		intn:   intn,
		now:    now,
		loc:    loc,
	}
}

type scoredConnection struct {
	conn  *domain.ChannelConnection
	usage ConnectionUsage
	score int
}

// Select returns one of the candidate connections, which must already be
// active and of a supported type. It returns ErrNoEligibleConnection when
// there are no candidates and ErrConnectionsCapped when every candidate is
// capped under the strict fallback policy.
func (s *Selector) Select(ctx context.Context, campaign *domain.Campaign, candidates []*domain.ChannelConnection) (*domain.ChannelConnection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleConnection
	}

	settings := campaign.AntiBan
	if settings.Mode == "" || settings.Mode == domain.AntiBanModeSimple {
		return candidates[s.intn(len(candidates))], nil
	}

	now := s.now().In(s.loc)
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	usage, err := s.usage.ConnectionUsage(ctx, campaign.CompanyID, ids, startOfDay(now), startOfHour(now))
	if err != nil {
		return nil, fmt.Errorf("connection usage: %w", err)
	}

	limits := LimitsForMode(settings.Mode)
	cooldown := time.Duration(settings.CooldownPeriod) * time.Minute
	if settings.CooldownPeriod <= 0 {
		cooldown = defaultCooldownMinutes * time.Minute
	}

	scored := make([]scoredConnection, 0, len(candidates))
	for _, c := range candidates {
		u := usage[c.ID]
		scored = append(scored, scoredConnection{
			conn:  c,
			usage: u,
			score: scoreConnection(u, limits, cooldown, now),
		})
	}

	eligible := make([]scoredConnection, 0, len(scored))
	for _, sc := range scored {
		if sc.usage.Today < limits.MaxPerDay && sc.usage.ThisHour < limits.MaxPerHour {
			eligible = append(eligible, sc)
		}
	}

	if len(eligible) == 0 {
		if s.policy == FallbackStrict {
			return nil, ErrConnectionsCapped
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].usage.Today != scored[j].usage.Today {
				return scored[i].usage.Today < scored[j].usage.Today
			}
			return scored[i].conn.ID < scored[j].conn.ID
		})
		return scored[0].conn, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].conn.ID < eligible[j].conn.ID
	})
	return eligible[0].conn, nil
}

// scoreConnection rates a connection's health; higher is better.
func scoreConnection(u ConnectionUsage, limits ModeLimits, cooldown time.Duration, now time.Time) int {
	score := baseScore

	switch {
	case float64(u.Today) > float64(limits.MaxPerDay)*0.8:
		score -= 50
	case float64(u.Today) > float64(limits.MaxPerDay)*0.6:
		score -= 25
	}

	switch {
	case float64(u.ThisHour) > float64(limits.MaxPerHour)*0.8:
		score -= 40
	case float64(u.ThisHour) > float64(limits.MaxPerHour)*0.6:
		score -= 20
	}

	if u.LastSentAt == nil {
		return score + 30
	}

	elapsed := now.Sub(*u.LastSentAt)
	switch {
	case elapsed > cooldown:
		score += 20
	case elapsed < cooldown/2:
		score -= 15
	}

	return score
}
