// Package telemetry publishes engine events over the signal bus so external
// dashboards and other instances can observe live state. Quotes go out as
// ephemeral pub/sub messages; settlements, opportunities, and safety
// transitions land on durable streams.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

const (
	// ChannelQuotes carries one message per poll cycle per pair.
	ChannelQuotes = "telemetry:quotes"

	// StreamSettlements holds the durable settlement history feed.
	StreamSettlements = "telemetry:settlements"
	// StreamOpportunities holds detected opportunities.
	StreamOpportunities = "telemetry:opportunities"
	// StreamSafety holds circuit-breaker transitions.
	StreamSafety = "telemetry:safety"
)

const publishTimeout = 5 * time.Second

// quoteEvent is the wire form of one pair's quotes from a poll cycle.
type quoteEvent struct {
	PairKey string              `json:"pair"`
	Quotes  []domain.VenueQuote `json:"quotes"`
}

// safetyEvent pairs a transition name with the state snapshot that caused it.
type safetyEvent struct {
	Event string             `json:"event"`
	State domain.SafetyState `json:"state"`
	At    time.Time          `json:"at"`
}

// Emitter publishes engine events as JSON over a signal bus. It satisfies
// the aggregator's snapshot sink, the coordinator's outcome sink, and the
// governor's state sink. Publish failures are logged and dropped; telemetry
// never blocks or fails the hot path.
type Emitter struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEmitter creates an Emitter over the given bus.
func NewEmitter(bus domain.SignalBus, logger *slog.Logger) *Emitter {
	return &Emitter{
		bus:    bus,
		logger: logger.With(slog.String("component", "telemetry")),
	}
}

// QuoteSnapshot publishes each pair's quotes from one poll cycle.
func (e *Emitter) QuoteSnapshot(ctx context.Context, quotes domain.QuoteSet) {
	for pairKey, pairQuotes := range quotes {
		payload, err := json.Marshal(quoteEvent{PairKey: pairKey, Quotes: pairQuotes})
		if err != nil {
			e.logger.Warn("marshal quote event", slog.String("error", err.Error()))
			continue
		}
		if err := e.bus.Publish(ctx, ChannelQuotes, payload); err != nil {
			e.logger.Warn("publish quotes",
				slog.String("pair", pairKey),
				slog.String("error", err.Error()))
		}
	}
}

// Opportunities appends detected opportunities to the durable stream.
func (e *Emitter) Opportunities(ctx context.Context, opps []domain.Opportunity) {
	for _, opp := range opps {
		payload, err := json.Marshal(opp)
		if err != nil {
			e.logger.Warn("marshal opportunity", slog.String("error", err.Error()))
			continue
		}
		if err := e.bus.StreamAppend(ctx, StreamOpportunities, payload); err != nil {
			e.logger.Warn("append opportunity",
				slog.String("id", opp.ID),
				slog.String("error", err.Error()))
		}
	}
}

// SettlementOutcome appends one settlement attempt to the durable stream.
// The append runs off the caller's goroutine so the coordinator never waits
// on the bus.
func (e *Emitter) SettlementOutcome(out domain.SettlementOutcome) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		payload, err := json.Marshal(out)
		if err != nil {
			e.logger.Warn("marshal outcome", slog.String("error", err.Error()))
			return
		}
		if err := e.bus.StreamAppend(ctx, StreamSettlements, payload); err != nil {
			e.logger.Warn("append outcome",
				slog.String("request_id", out.RequestID),
				slog.String("error", err.Error()))
		}
	}()
}

// SafetyTransition appends one circuit-breaker transition to the durable
// stream, off the governor's goroutine.
func (e *Emitter) SafetyTransition(event string, state domain.SafetyState) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		payload, err := json.Marshal(safetyEvent{Event: event, State: state, At: time.Now().UTC()})
		if err != nil {
			e.logger.Warn("marshal safety event", slog.String("error", err.Error()))
			return
		}
		if err := e.bus.StreamAppend(ctx, StreamSafety, payload); err != nil {
			e.logger.Warn("append safety event",
				slog.String("event", event),
				slog.String("error", err.Error()))
		}
	}()
}
