package dispatch

import "github.com/ianampudia11/mecom-sub003/internal/domain"

// ModeLimits are campaign level send caps of an anti-ban mode.
type ModeLimits struct {
	MaxPerDay    int
	MaxPerHour   int
	MaxPerMinute int
}

// LimitsForMode returns caps for the given mode. Unknown modes get moderate caps.
func LimitsForMode(mode domain.AntiBanMode) ModeLimits {
	switch mode {
	case domain.AntiBanModeConservative:
		return ModeLimits{MaxPerDay: 500, MaxPerHour: 50, MaxPerMinute: 2}
	case domain.AntiBanModeAggressive:
		return ModeLimits{MaxPerDay: 2000, MaxPerHour: 200, MaxPerMinute: 10}
	default:
		return ModeLimits{MaxPerDay: 1000, MaxPerHour: 100, MaxPerMinute: 5}
	}
}
