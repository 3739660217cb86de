package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// Event types emitted by the alerts layer. Operators filter on these via the
// notifier's allowed-events list.
const (
	EventSettlementSuccess = "settlement_success"
	EventSettlementFailure = "settlement_failure"
	EventSafetyCooldown    = "safety_cooldown"
	EventCongestion        = "congestion"
	EventCompetitor        = "competitor"
)

const sendTimeout = 15 * time.Second

// Alerts turns settlement outcomes and safety transitions into operator
// notifications. It satisfies the coordinator's outcome sink and the
// governor's state sink; delivery failures are logged by the notifier and
// never propagate back into the settlement path.
type Alerts struct {
	notifier *Notifier

	// MinProfitAlert suppresses success alerts below this realized profit so
	// routine small wins do not page anyone. Failures always alert.
	MinProfitAlert float64
}

// NewAlerts creates an Alerts layer over the given notifier.
func NewAlerts(n *Notifier) *Alerts {
	return &Alerts{notifier: n}
}

// SettlementOutcome reports one settlement attempt.
func (a *Alerts) SettlementOutcome(out domain.SettlementOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if out.Success {
		if out.RealizedProfit < a.MinProfitAlert {
			return
		}
		title := fmt.Sprintf("Settlement filled: %s %s", out.Kind, out.Pair.Key())
		msg := fmt.Sprintf("profit %.4f %s\ntx %s\ngas used %d",
			out.RealizedProfit, out.Pair.TokenB, out.TxRef, out.GasUsed)
		_ = a.notifier.Notify(ctx, EventSettlementSuccess, title, msg)
		return
	}

	title := fmt.Sprintf("Settlement failed: %s %s", out.Kind, out.Pair.Key())
	msg := fmt.Sprintf("reason %s\nrequest %s", out.FailureReason, out.RequestID)
	if out.TxRef != "" {
		msg += "\ntx " + out.TxRef
	}
	_ = a.notifier.Notify(ctx, EventSettlementFailure, title, msg)
}

// SafetyTransition reports circuit-breaker state changes. Routine events
// such as cooldown expiry are left to the logs.
func (a *Alerts) SafetyTransition(event string, state domain.SafetyState) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	switch event {
	case "cooldown_engaged":
		title := "Safety governor: cooldown engaged"
		msg := fmt.Sprintf("%d consecutive failures, settlements halted until %s",
			state.ConsecutiveFailures, state.CooldownUntil.UTC().Format(time.RFC3339))
		_ = a.notifier.Notify(ctx, EventSafetyCooldown, title, msg)
	case "congestion_detected":
		title := "Safety governor: gas congestion"
		msg := fmt.Sprintf("gas %.1f gwei vs baseline %.1f gwei",
			state.CurrentGasPriceWei/1e9, state.BaselineGasPriceWei/1e9)
		_ = a.notifier.Notify(ctx, EventCongestion, title, msg)
	case "congestion_cleared":
		_ = a.notifier.Notify(ctx, EventCongestion, "Safety governor: congestion cleared", "")
	case "competitor_detected":
		title := "Safety governor: competitive pressure"
		msg := fmt.Sprintf("streak %d, slippage multiplier raised to %.2f",
			state.CompetitiveStreak, state.SlippageMultiplier)
		_ = a.notifier.Notify(ctx, EventCompetitor, title, msg)
	}
}
