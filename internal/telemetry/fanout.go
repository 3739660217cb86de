package telemetry

import "github.com/arbiterlabs/flasharb/internal/domain"

// OutcomeSink mirrors the coordinator's outcome sink so multiple consumers
// (emitter, operator alerts) can hang off one settlement report.
type OutcomeSink interface {
	SettlementOutcome(outcome domain.SettlementOutcome)
}

// StateSink mirrors the governor's state sink.
type StateSink interface {
	SafetyTransition(event string, state domain.SafetyState)
}

// OutcomeFanout delivers each outcome to every registered sink in order.
type OutcomeFanout struct {
	sinks []OutcomeSink
}

// NewOutcomeFanout creates a fanout over the given sinks; nils are skipped.
func NewOutcomeFanout(sinks ...OutcomeSink) *OutcomeFanout {
	f := &OutcomeFanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *OutcomeFanout) SettlementOutcome(out domain.SettlementOutcome) {
	for _, s := range f.sinks {
		s.SettlementOutcome(out)
	}
}

// StateFanout delivers each safety transition to every registered sink.
type StateFanout struct {
	sinks []StateSink
}

// NewStateFanout creates a fanout over the given sinks; nils are skipped.
func NewStateFanout(sinks ...StateSink) *StateFanout {
	f := &StateFanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *StateFanout) SafetyTransition(event string, state domain.SafetyState) {
	for _, s := range f.sinks {
		s.SafetyTransition(event, state)
	}
}
