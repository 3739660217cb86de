package safety

import (
	"log/slog"
	"testing"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newGovernor(t *testing.T) (*Governor, *time.Time) {
	t.Helper()
	g := New(Config{}, nil, discard())
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestCooldown_TripsAfterThreshold(t *testing.T) {
	g, _ := newGovernor(t)

	g.RecordFailure(domain.FailSubmission)
	g.RecordFailure(domain.FailSubmission)
	if !g.AllowSettlement() {
		t.Fatal("cooldown engaged before threshold")
	}
	g.RecordFailure(domain.FailSubmission)
	if g.AllowSettlement() {
		t.Fatal("expected cooldown after third consecutive failure")
	}
}

func TestCooldown_SuccessDoesNotShortenIt(t *testing.T) {
	g, clock := newGovernor(t)

	for i := 0; i < 3; i++ {
		g.RecordFailure(domain.FailSubmission)
	}
	if g.AllowSettlement() {
		t.Fatal("expected active cooldown")
	}

	*clock = clock.Add(time.Minute)
	g.RecordSuccess()
	if g.AllowSettlement() {
		t.Fatal("success must not clear an active cooldown")
	}
}

func TestCooldown_ExpiresOnTimer(t *testing.T) {
	g, clock := newGovernor(t)

	for i := 0; i < 3; i++ {
		g.RecordFailure(domain.FailSubmission)
	}

	*clock = clock.Add(5*time.Minute + time.Second)
	if !g.AllowSettlement() {
		t.Fatal("expected cooldown to expire after its duration")
	}
	state := g.Snapshot()
	if state.ConsecutiveFailures != 0 {
		t.Errorf("expected failure counter reset on expiry, got %d", state.ConsecutiveFailures)
	}
	if !state.CooldownUntil.IsZero() {
		t.Errorf("expected cleared cooldown, got %v", state.CooldownUntil)
	}
}

func TestCongestion_FlipsOnSpikeAndBack(t *testing.T) {
	g, _ := newGovernor(t)

	g.UpdateGasPrice(100e9) // establishes baseline
	if g.Snapshot().Congested {
		t.Fatal("baseline sample must not flag congestion")
	}

	g.UpdateGasPrice(300e9) // 3x baseline, above the 2.5x spike factor
	if !g.Snapshot().Congested {
		t.Fatal("expected congestion at 3x baseline")
	}

	g.UpdateGasPrice(100e9)
	if g.Snapshot().Congested {
		t.Fatal("expected congestion cleared at 1x baseline")
	}
}

func TestCompetitive_RaisesSlippageMultiplier(t *testing.T) {
	g, _ := newGovernor(t)

	g.RecordFailure(domain.FailRevertedSlippage)
	if got := g.SlippageMultiplier(); got != 1.0 {
		t.Fatalf("single competitive failure must not raise multiplier, got %f", got)
	}
	g.RecordFailure(domain.FailFrontrun)
	g.RecordFailure(domain.FailReverted)
	if got := g.SlippageMultiplier(); got != 1.3 {
		t.Fatalf("expected multiplier 1.3 after competitive streak, got %f", got)
	}
	if !g.Snapshot().CompetitorDetected {
		t.Error("expected competitor-detected flag")
	}
}

func TestCompetitive_NonCompetitiveFailureResetsStreak(t *testing.T) {
	g, _ := newGovernor(t)

	g.RecordFailure(domain.FailRevertedSlippage)
	g.RecordFailure(domain.FailInsufficientMargin) // local rejection, not a race lost
	g.RecordFailure(domain.FailRevertedSlippage)
	if got := g.SlippageMultiplier(); got != 1.0 {
		t.Fatalf("interrupted streak must not raise multiplier, got %f", got)
	}
}

func TestCompetitive_MultiplierDecaysOnSeededSuccess(t *testing.T) {
	g, _ := newGovernor(t)
	rolls := []float64{0.9, 0.1, 0.1, 0.1, 0.9}
	i := 0
	g.rand = func() float64 { v := rolls[i]; i++; return v }

	g.RecordFailure(domain.FailRevertedSlippage)
	g.RecordFailure(domain.FailRevertedSlippage)
	if got := g.SlippageMultiplier(); got != 1.3 {
		t.Fatalf("expected 1.3 after streak, got %f", got)
	}

	g.RecordSuccess() // roll 0.9 >= 0.3: no decay
	if got := g.SlippageMultiplier(); got != 1.3 {
		t.Fatalf("expected no decay on losing roll, got %f", got)
	}

	g.RecordSuccess() // 0.1 < 0.3: 1.3 -> 1.2
	got := g.SlippageMultiplier()
	if got > 1.21 || got < 1.19 {
		t.Fatalf("expected decay to ~1.2, got %f", got)
	}

	g.RecordSuccess() // -> 1.1
	g.RecordSuccess() // -> 1.0
	if got := g.SlippageMultiplier(); got != 1.0 {
		t.Fatalf("expected decay floor at 1.0, got %f", got)
	}
	if g.Snapshot().CompetitorDetected {
		t.Error("expected competitor flag cleared at floor")
	}
}

func TestRecordSuccess_ResetsFailureCounter(t *testing.T) {
	g, _ := newGovernor(t)

	g.RecordFailure(domain.FailSubmission)
	g.RecordFailure(domain.FailSubmission)
	g.RecordSuccess()
	g.RecordFailure(domain.FailSubmission)
	g.RecordFailure(domain.FailSubmission)
	if !g.AllowSettlement() {
		t.Fatal("counter was not reset by success")
	}
}
