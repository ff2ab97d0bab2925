package dispatch

import (
	"testing"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestAntiBanDelay(t *testing.T) {
	wednesday := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	wednesdayNight := time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC)
	saturdayNight := time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC)

	lowest := func(int) int { return 0 }
	highest := func(n int) int { return n - 1 }

	tests := []struct {
		name     string
		settings domain.AntiBanSettings
		now      time.Time
		intn     func(int) int
		want     time.Duration
	}{
		{
			name: "default lower bound",
			now:  wednesday,
			intn: lowest,
			want: 7 * time.Second,
		},
		{
			name: "default upper bound",
			now:  wednesday,
			intn: highest,
			want: 9 * time.Second,
		},
		{
			name:     "conservative floor",
			settings: domain.AntiBanSettings{Mode: domain.AntiBanModeConservative},
			now:      wednesday,
			intn:     lowest,
			want:     11 * time.Second,
		},
		{
			name:     "aggressive keeps default base",
			settings: domain.AntiBanSettings{Mode: domain.AntiBanModeAggressive},
			now:      wednesday,
			intn:     lowest,
			want:     7 * time.Second,
		},
		{
			name:     "randomized range replaces base",
			settings: domain.AntiBanSettings{RandomizeDelay: true, MinDelay: 4, MaxDelay: 8},
			now:      wednesday,
			intn:     highest,
			want:     8 * time.Second,
		},
		{
			name:     "randomized defaults",
			settings: domain.AntiBanSettings{RandomizeDelay: true},
			now:      wednesday,
			intn:     lowest,
			want:     3 * time.Second,
		},
		{
			name:     "randomized with aggressive floor",
			settings: domain.AntiBanSettings{RandomizeDelay: true, MinDelay: 1, MaxDelay: 2, Mode: domain.AntiBanModeAggressive},
			now:      wednesday,
			intn:     lowest,
			want:     4 * time.Second,
		},
		{
			name:     "inverted range collapses",
			settings: domain.AntiBanSettings{RandomizeDelay: true, MinDelay: 10, MaxDelay: 5},
			now:      wednesday,
			intn:     highest,
			want:     10 * time.Second,
		},
		{
			name:     "business hours inside window",
			settings: domain.AntiBanSettings{BusinessHoursOnly: true},
			now:      wednesday,
			intn:     lowest,
			want:     7 * time.Second,
		},
		{
			name:     "business hours outside window",
			settings: domain.AntiBanSettings{BusinessHoursOnly: true},
			now:      wednesdayNight,
			intn:     lowest,
			want:     5*time.Minute + 7*time.Second,
		},
		{
			name:     "weekend and off hours stack",
			settings: domain.AntiBanSettings{BusinessHoursOnly: true, RespectWeekends: true},
			now:      saturdayNight,
			intn:     lowest,
			want:     15*time.Minute + 7*time.Second,
		},
		{
			name:     "weekend ignored when not respected",
			settings: domain.AntiBanSettings{},
			now:      saturdayNight,
			intn:     lowest,
			want:     7 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AntiBanDelay(tt.settings, tt.now, tt.intn))
		})
	}
}

func TestAntiBanDelay_Bounds(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	rng := newLockedRand(nil)
	settings := domain.AntiBanSettings{Mode: domain.AntiBanModeModerate}

	for i := 0; i < 200; i++ {
		d := AntiBanDelay(settings, now, rng.IntN)
		assert.GreaterOrEqual(t, d, 7*time.Second)
		assert.LessOrEqual(t, d, 9*time.Second)
	}
}
