package domain

import "time"

// SafetyState is a read-only snapshot of the circuit breaker. Only the
// safety governor mutates the underlying state; every other component sees
// copies produced by its Snapshot method.
type SafetyState struct {
	ConsecutiveFailures int
	CooldownUntil       time.Time // zero when no cooldown is active

	CurrentGasPriceWei  float64
	BaselineGasPriceWei float64
	Congested           bool

	CompetitiveStreak  int
	CompetitorDetected bool
	// SlippageMultiplier scales the coordinator's minimum-output tolerance;
	// 1.0 when no competitive pressure is detected.
	SlippageMultiplier float64
}

// CoolingDown reports whether new settlements are blocked at the given
// instant.
func (s SafetyState) CoolingDown(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}
