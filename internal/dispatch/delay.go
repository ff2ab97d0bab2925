package dispatch

import (
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// Anti-ban delay constants.
const (
	defaultBaseDelay    = 6 * time.Second
	defaultRandomMin    = time.Second
	defaultRandomMax    = 3 * time.Second
	defaultMinDelaySecs = 3
	defaultMaxDelaySecs = 15

	businessHoursStart = 9
	businessHoursEnd   = 18
	offHoursPenalty    = 5 * time.Minute
	weekendPenalty     = 10 * time.Minute
)

// modeFloor returns the minimum base delay of a mode.
func modeFloor(mode domain.AntiBanMode) time.Duration {
	switch mode {
	case domain.AntiBanModeConservative:
		return 10 * time.Second
	case domain.AntiBanModeModerate:
		return 6 * time.Second
	case domain.AntiBanModeAggressive:
		return 3 * time.Second
	default:
		return 0
	}
}

// AntiBanDelay computes the pause after a send on a connection. now must be
// expressed in the location used for business hours and weekends. intn
// returns a value in [0, n).
func AntiBanDelay(settings domain.AntiBanSettings, now time.Time, intn func(n int) int) time.Duration {
	base := defaultBaseDelay
	lo, hi := defaultRandomMin, defaultRandomMax

	if settings.RandomizeDelay {
		minSecs, maxSecs := settings.MinDelay, settings.MaxDelay
		if minSecs <= 0 {
			minSecs = defaultMinDelaySecs
		}
		if maxSecs <= 0 {
			maxSecs = defaultMaxDelaySecs
		}
		lo = time.Duration(minSecs) * time.Second
		hi = time.Duration(maxSecs) * time.Second
		if hi < lo {
			hi = lo
		}
		base = 0
	}

	base = max(base, modeFloor(settings.Mode))

	if settings.BusinessHoursOnly {
		if h := now.Hour(); h < businessHoursStart || h >= businessHoursEnd {
			base += offHoursPenalty
		}
	}

	if settings.RespectWeekends {
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			base += weekendPenalty
		}
	}

	spanMs := int((hi - lo) / time.Millisecond)
	random := lo + time.Duration(intn(spanMs+1))*time.Millisecond

	return base + random
}
