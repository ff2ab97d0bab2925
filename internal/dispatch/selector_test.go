package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsage map[string]ConnectionUsage

func (s stubUsage) ConnectionUsage(_ context.Context, _ string, ids []string, _, _ time.Time) (map[string]ConnectionUsage, error) {
	out := make(map[string]ConnectionUsage, len(ids))
	for _, id := range ids {
		if u, ok := s[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func activeConns(ids ...string) []*domain.ChannelConnection {
	conns := make([]*domain.ChannelConnection, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, &domain.ChannelConnection{
			ID:          id,
			ChannelType: domain.ChannelTypeWhatsAppUnofficial,
			Status:      domain.ConnectionStatusActive,
		})
	}
	return conns
}

func campaignWithMode(mode domain.AntiBanMode) *domain.Campaign {
	return &domain.Campaign{
		ID:        "c1",
		CompanyID: "co-1",
		AntiBan:   domain.AntiBanSettings{Mode: mode, AccountRotation: true},
	}
}

func TestSelector_NoCandidates(t *testing.T) {
	s := NewSelector(stubUsage{}, FallbackBestEffort, nil, nil, nil)

	_, err := s.Select(context.Background(), campaignWithMode(domain.AntiBanModeModerate), nil)
	assert.ErrorIs(t, err, ErrNoEligibleConnection)
}

func TestSelector_SimpleModePicksRandomly(t *testing.T) {
	picks := []int{2, 0, 1}
	call := 0
	intn := func(n int) int {
		v := picks[call%len(picks)] % n
		call++
		return v
	}
	s := NewSelector(stubUsage{}, FallbackBestEffort, intn, nil, nil)
	conns := activeConns("a", "b", "c")

	var got []string
	for range picks {
		c, err := s.Select(context.Background(), campaignWithMode(domain.AntiBanModeSimple), conns)
		require.NoError(t, err)
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestSelector_PrefersHealthiestConnection(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	recent := now.Add(-5 * time.Minute)
	old := now.Add(-2 * time.Hour)

	tests := []struct {
		name  string
		usage stubUsage
		want  string
	}{
		{
			name: "never used wins over recently used",
			usage: stubUsage{
				"a": {Today: 10, ThisHour: 2, LastSentAt: &recent},
			},
			want: "b",
		},
		{
			name: "rested beats recently used",
			usage: stubUsage{
				"a": {Today: 10, ThisHour: 2, LastSentAt: &recent},
				"b": {Today: 10, ThisHour: 2, LastSentAt: &old},
			},
			want: "b",
		},
		{
			name: "heavy daily usage is penalized",
			usage: stubUsage{
				"a": {Today: 900, ThisHour: 1, LastSentAt: &old},
				"b": {Today: 100, ThisHour: 1, LastSentAt: &old},
			},
			want: "b",
		},
		{
			name: "ties break by id",
			usage: stubUsage{
				"a": {Today: 5, LastSentAt: &old},
				"b": {Today: 5, LastSentAt: &old},
			},
			want: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(tt.usage, FallbackBestEffort, nil, func() time.Time { return now }, time.UTC)
			c, err := s.Select(context.Background(), campaignWithMode(domain.AntiBanModeModerate), activeConns("a", "b"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.ID)
		})
	}
}

func TestSelector_SkipsCappedConnection(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	usage := stubUsage{
		"x": {Today: 2000},
		"y": {Today: 1500, ThisHour: 150},
	}
	s := NewSelector(usage, FallbackBestEffort, nil, func() time.Time { return now }, time.UTC)

	for i := 0; i < 10; i++ {
		c, err := s.Select(context.Background(), campaignWithMode(domain.AntiBanModeAggressive), activeConns("x", "y"))
		require.NoError(t, err)
		assert.Equal(t, "y", c.ID)
	}
}

func TestSelector_AllCapped(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	usage := stubUsage{
		"x": {Today: 2400},
		"y": {Today: 2100},
	}

	t.Run("best effort picks least used", func(t *testing.T) {
		s := NewSelector(usage, FallbackBestEffort, nil, func() time.Time { return now }, time.UTC)
		c, err := s.Select(context.Background(), campaignWithMode(domain.AntiBanModeAggressive), activeConns("x", "y"))
		require.NoError(t, err)
		assert.Equal(t, "y", c.ID)
	})

	t.Run("strict waits", func(t *testing.T) {
		s := NewSelector(usage, FallbackStrict, nil, func() time.Time { return now }, time.UTC)
		_, err := s.Select(context.Background(), campaignWithMode(domain.AntiBanModeAggressive), activeConns("x", "y"))
		assert.ErrorIs(t, err, ErrConnectionsCapped)
	})
}

func TestScoreConnection(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	limits := LimitsForMode(domain.AntiBanModeModerate)
	cooldown := 30 * time.Minute
	at := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	tests := []struct {
		name  string
		usage ConnectionUsage
		want  int
	}{
		{"fresh", ConnectionUsage{}, 130},
		{"day above 80 percent", ConnectionUsage{Today: 801, LastSentAt: at(20 * time.Minute)}, 50},
		{"day above 60 percent", ConnectionUsage{Today: 601, LastSentAt: at(20 * time.Minute)}, 75},
		{"hour above 80 percent", ConnectionUsage{ThisHour: 81, LastSentAt: at(20 * time.Minute)}, 60},
		{"hour above 60 percent", ConnectionUsage{ThisHour: 61, LastSentAt: at(20 * time.Minute)}, 80},
		{"past cooldown", ConnectionUsage{LastSentAt: at(time.Hour)}, 120},
		{"within half cooldown", ConnectionUsage{LastSentAt: at(5 * time.Minute)}, 85},
		{"everything bad", ConnectionUsage{Today: 900, ThisHour: 90, LastSentAt: at(time.Minute)}, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreConnection(tt.usage, limits, cooldown, now))
		})
	}
}
