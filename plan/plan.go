// Package plan defines the output contract shared by both planners and
// consumed by the dispatcher, the www layer and the comparison tooling.
package plan

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/hours"
)

type Mode int

const (
	ModeSelfUse Mode = iota // Battery absorbs surplus and covers deficit
	ModeGridFirst           // Solar routed to the grid ahead of the battery
	ModeForceCharge         // Battery charged from the grid
	ModeForceDischarge      // Battery exported to the grid
	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeSelfUse:
		return "self_use"
	case ModeGridFirst:
		return "grid_first"
	case ModeForceCharge:
		return "force_charge"
	case ModeForceDischarge:
		return "force_discharge"
	default:
		return "unknown"
	}
}

func (m Mode) IsValid() bool {
	return m >= ModeSelfUse && m < modeCount
}

// ParseMode is the inverse of Mode.String, used when reading persisted plans.
func ParseMode(str string) (Mode, error) {
	for m := ModeSelfUse; m < modeCount; m++ {
		if m.String() == str {
			return m, nil
		}
	}
	return ModeSelfUse, fmt.Errorf("unknown plan mode %q", str)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseMode(str)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Engines that can produce a Plan. Stored with the plan so a consumer always
// knows whether it is looking at the optimal or the fallback answer.
const (
	EngineRuleBased   = "rule_based"
	EngineMathOptimal = "lp"
)

// Slot is one half-hour decision. BatteryFlowKWh is store-side and signed,
// positive into the battery. SocAfter is the SOC at the end of the slot; the
// SOC at its start is the previous slot's SocAfter (or the plan's StartSoc).
type Slot struct {
	Time           time.Time `json:"time"`
	Mode           Mode      `json:"mode"`
	GridImportKWh  float64   `json:"grid_import_kwh"`
	GridExportKWh  float64   `json:"grid_export_kwh"`
	BatteryFlowKWh float64   `json:"battery_flow_kwh"`
	SocAfter       float64   `json:"soc_after"`
	CostPence      float64   `json:"cost_pence"`
	ClippedKWh     float64   `json:"clipped_kwh"`
	Reason         string    `json:"reason"`
}

// Plan is the full horizon answer of one planning cycle. It is created
// fresh every cycle and never patched.
type Plan struct {
	CreatedAt time.Time `json:"created_at"`
	Engine    string    `json:"engine"`
	StartSoc  float64   `json:"start_soc"`
	Slots     []Slot    `json:"slots"`
}

// Summary aggregates a plan for dashboards and for the dispatcher's logs.
type Summary struct {
	TotalCostPence  float64      `json:"total_cost_pence"`
	TotalClippedKWh float64      `json:"total_clipped_kwh"`
	FinalSoc        float64      `json:"final_soc"`
	ModeSlots       map[string]int `json:"mode_slots"`
}

func (p *Plan) Summary() Summary {
	s := Summary{FinalSoc: p.StartSoc, ModeSlots: map[string]int{}}
	for _, slot := range p.Slots {
		s.TotalCostPence += slot.CostPence
		s.TotalClippedKWh += slot.ClippedKWh
		s.ModeSlots[slot.Mode.String()]++
		s.FinalSoc = slot.SocAfter
	}
	return s
}

// socContinuityEpsilon absorbs solver tolerance in the SOC chain; anything
// larger means a slot's SocAfter does not follow from its battery flow.
const socContinuityEpsilon = 1e-3

// Validate checks the structural invariants of a finished plan: half-hour
// spacing, SOC kept inside the battery's window, and SOC continuity (each
// slot's SocAfter must follow from the previous SOC plus the slot's
// store-side battery flow). A SOC excursion is a transition-logic defect and
// surfaces as battery.InvariantError.
func (p *Plan) Validate(spec battery.Spec) error {
	soc := p.StartSoc
	for i, slot := range p.Slots {
		if i > 0 {
			want := p.Slots[i-1].Time.Add(hours.SlotDuration)
			if !slot.Time.Equal(want) {
				return fmt.Errorf("slot %d at %s, wanted %s", i, slot.Time, want)
			}
		}
		st := battery.State{Spec: spec, Soc: slot.SocAfter}
		if err := st.CheckInvariant(); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		soc += spec.KWhToSoc(slot.BatteryFlowKWh)
		if math.Abs(soc-slot.SocAfter) > socContinuityEpsilon {
			return fmt.Errorf("slot %d: soc %.4f does not follow from soc %.4f and a battery flow of %.4f kWh",
				i, slot.SocAfter, soc-spec.KWhToSoc(slot.BatteryFlowKWh), slot.BatteryFlowKWh)
		}
		soc = slot.SocAfter
	}
	return nil
}
