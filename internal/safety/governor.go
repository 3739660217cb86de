// Package safety implements the circuit breaker that gates settlement
// activity. The governor is the sole writer of the safety state; every other
// component reads immutable snapshots.
package safety

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// baselineEWMA is the weight new samples get when nudging the gas baseline
// while the network is calm.
const baselineEWMA = 0.05

// multiplierStep is how far the slippage multiplier decays per triggered
// success.
const multiplierStep = 0.1

// competitiveTrip is how many competitive failures in a row flip the
// detected flag.
const competitiveTrip = 2

// StateSink receives safety-state transitions for telemetry. It must not
// block.
type StateSink interface {
	SafetyTransition(event string, state domain.SafetyState)
}

// Config holds the circuit-breaker parameters.
type Config struct {
	// MaxConsecutiveFailures trips the cooldown when reached.
	MaxConsecutiveFailures int
	Cooldown               time.Duration
	// GasSpikeFactor declares congestion when current/baseline exceeds it.
	GasSpikeFactor float64
	// SlippageMultiplier is applied to minimum-output tolerances while a
	// competitor is detected.
	SlippageMultiplier float64
	// DecayChance is the per-success probability of stepping the multiplier
	// back toward 1.0.
	DecayChance float64
}

// Governor tracks failures, congestion, and competitive pressure across
// three independent axes. All gates are advisory: the orchestrator consults
// them before starting a settlement, but the governor never rejects work
// itself. Safe for concurrent use.
type Governor struct {
	cfg    Config
	sink   StateSink // optional
	logger *slog.Logger

	mu    sync.Mutex
	state domain.SafetyState

	now  func() time.Time
	rand func() float64
}

// New creates a Governor with a clean state. sink may be nil.
func New(cfg Config, sink StateSink, logger *slog.Logger) *Governor {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.GasSpikeFactor <= 0 {
		cfg.GasSpikeFactor = 2.5
	}
	if cfg.SlippageMultiplier <= 1 {
		cfg.SlippageMultiplier = 1.3
	}
	if cfg.DecayChance <= 0 {
		cfg.DecayChance = 0.3
	}
	return &Governor{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "safety")),
		state:  domain.SafetyState{SlippageMultiplier: 1.0},
		now:    time.Now,
		rand:   rand.Float64,
	}
}

// RecordSuccess resets the failure counters and gives the slippage
// multiplier a chance to decay. An active cooldown is not shortened; it
// expires on its own timer.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(g.now())

	g.state.ConsecutiveFailures = 0
	g.state.CompetitiveStreak = 0

	if g.state.SlippageMultiplier > 1.0 && g.rand() < g.cfg.DecayChance {
		g.state.SlippageMultiplier -= multiplierStep
		// Tolerance absorbs float drift from the repeated 0.1 steps.
		if g.state.SlippageMultiplier <= 1.0+1e-9 {
			g.state.SlippageMultiplier = 1.0
			g.state.CompetitorDetected = false
		}
		g.logger.Info("slippage multiplier decayed",
			slog.Float64("multiplier", g.state.SlippageMultiplier))
		g.emitLocked("multiplier_decayed")
	}
}

// RecordFailure increments the failure counter, trips the cooldown at the
// configured threshold, and tracks competitive pressure when the failure
// reason suggests another bot beat us to the block.
func (g *Governor) RecordFailure(reason domain.FailureReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.expireLocked(now)

	g.state.ConsecutiveFailures++
	if g.state.ConsecutiveFailures >= g.cfg.MaxConsecutiveFailures && g.state.CooldownUntil.IsZero() {
		g.state.CooldownUntil = now.Add(g.cfg.Cooldown)
		g.logger.Warn("cooldown engaged",
			slog.Int("consecutive_failures", g.state.ConsecutiveFailures),
			slog.Time("until", g.state.CooldownUntil))
		g.emitLocked("cooldown_engaged")
	}

	if reason.Competitive() {
		g.state.CompetitiveStreak++
		if g.state.CompetitiveStreak >= competitiveTrip && !g.state.CompetitorDetected {
			g.state.CompetitorDetected = true
			g.state.SlippageMultiplier = g.cfg.SlippageMultiplier
			g.logger.Warn("competitive pressure detected",
				slog.String("reason", string(reason)),
				slog.Float64("multiplier", g.state.SlippageMultiplier))
			g.emitLocked("competitor_detected")
		}
	} else {
		g.state.CompetitiveStreak = 0
	}
}

// UpdateGasPrice feeds a fresh gas-price sample into the congestion axis.
// The first sample establishes the baseline; later samples nudge it with a
// slow moving average while the network is calm, so the baseline tracks
// long-term drift without chasing spikes.
func (g *Governor) UpdateGasPrice(priceWei float64) {
	if priceWei <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.CurrentGasPriceWei = priceWei
	if g.state.BaselineGasPriceWei <= 0 {
		g.state.BaselineGasPriceWei = priceWei
		return
	}

	congested := priceWei/g.state.BaselineGasPriceWei > g.cfg.GasSpikeFactor
	if congested != g.state.Congested {
		g.state.Congested = congested
		event := "congestion_cleared"
		if congested {
			event = "congestion_detected"
		}
		g.logger.Info(event,
			slog.Float64("gas_price_wei", priceWei),
			slog.Float64("baseline_wei", g.state.BaselineGasPriceWei))
		g.emitLocked(event)
	}
	if !g.state.Congested {
		g.state.BaselineGasPriceWei = (1-baselineEWMA)*g.state.BaselineGasPriceWei + baselineEWMA*priceWei
	}
}

// AllowSettlement reports whether a new settlement may start. Only the
// cooldown axis blocks outright; congestion is reported through Snapshot and
// handled by the orchestrator's low-margin skip.
func (g *Governor) AllowSettlement() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(g.now())
	return g.state.CooldownUntil.IsZero()
}

// SlippageMultiplier returns the current minimum-output scaling factor.
func (g *Governor) SlippageMultiplier() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.SlippageMultiplier
}

// Snapshot returns a copy of the current state with expired cooldowns
// cleared.
func (g *Governor) Snapshot() domain.SafetyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(g.now())
	return g.state
}

// expireLocked clears a cooldown whose timer has elapsed. The failure
// counter resets with it so the next failure starts a fresh streak.
func (g *Governor) expireLocked(now time.Time) {
	if g.state.CooldownUntil.IsZero() || now.Before(g.state.CooldownUntil) {
		return
	}
	g.state.CooldownUntil = time.Time{}
	g.state.ConsecutiveFailures = 0
	g.logger.Info("cooldown expired")
	g.emitLocked("cooldown_expired")
}

func (g *Governor) emitLocked(event string) {
	if g.sink != nil {
		g.sink.SafetyTransition(event, g.state)
	}
}
