package battery

import (
	"fmt"
	"math"
)

// socEpsilon absorbs float drift when checking the SOC window.
const socEpsilon = 1e-6

// State is a battery snapshot. It is a value type: Apply returns a new State
// and never mutates its receiver, so a planning pass can fork and replay
// freely.
type State struct {
	Spec
	Soc float64 // State of charge in percentage, MinSoc..100
}

// InvariantError reports a SOC outside [MinSoc, 100]. This signals a defect
// in transition logic, not an operational condition: Apply clamps on purpose,
// so a violation can only come from state constructed outside Apply.
type InvariantError struct {
	Soc    float64
	MinSoc float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("battery soc %.4f%% outside [%.1f%%, 100%%]", e.Soc, e.MinSoc)
}

// CheckInvariant returns an InvariantError when the SOC has left its window.
func (s State) CheckInvariant() error {
	if s.Soc < s.MinSoc-socEpsilon || s.Soc > 100+socEpsilon {
		return &InvariantError{Soc: s.Soc, MinSoc: s.MinSoc}
	}
	return nil
}

// HeadroomKWh is the energy the store can still absorb before hitting 100%.
func (s State) HeadroomKWh() float64 {
	return math.Max(0, s.SocToKWh(100-s.Soc))
}

// AvailableKWh is the energy the store can release before hitting MinSoc.
func (s State) AvailableKWh() float64 {
	return math.Max(0, s.SocToKWh(s.Soc-s.MinSoc))
}

// Apply runs the battery one slot forward. powerKw is the AC-side request:
// positive charges, negative is delivered discharge power. The request is
// clamped to the rate limit and to the SOC window.
//
// It returns the new state, the AC-side energy actually moved (signed like
// the request) and the requested energy that had to be refused because of
// rate, headroom or reserve limits.
func (s State) Apply(powerKw, durationHours float64) (State, float64, float64) {
	if powerKw >= 0 {
		requested := powerKw * durationHours
		accepted := math.Min(powerKw, s.MaxChargeKw) * durationHours

		stored := accepted * s.ChargeEfficiency
		if headroom := s.HeadroomKWh(); stored > headroom {
			stored = headroom
			accepted = stored / s.ChargeEfficiency
		}

		next := s
		next.Soc += s.KWhToSoc(stored)
		return next, accepted, requested - accepted
	}

	requested := -powerKw * durationHours
	delivered := math.Min(-powerKw, s.MaxDischargeKw) * durationHours

	drained := delivered / s.DischargeEfficiency
	if available := s.AvailableKWh(); drained > available {
		drained = available
		delivered = drained * s.DischargeEfficiency
	}

	next := s
	next.Soc -= s.KWhToSoc(drained)
	return next, -delivered, requested - delivered
}

// FlowKWh is the signed store-side energy difference between two states:
// positive when energy went in, negative when it came out.
func FlowKWh(before, after State) float64 {
	return before.SocToKWh(after.Soc - before.Soc)
}
