package plan

import (
	"fmt"
	"strings"
)

// SlotDiff pairs the two planners' decisions for one half hour. Only slots
// where something differs are kept in a Comparison.
type SlotDiff struct {
	Index      int     `json:"index"`
	ModeA      string  `json:"mode_a"`
	ModeB      string  `json:"mode_b"`
	CostAPence float64 `json:"cost_a_pence"`
	CostBPence float64 `json:"cost_b_pence"`
	SocAfterA  float64 `json:"soc_after_a"`
	SocAfterB  float64 `json:"soc_after_b"`
}

// Comparison is the aggregate and slot-level delta between two plans over
// the same horizon, used by benchmark tooling rather than the planning loop.
type Comparison struct {
	EngineA    string     `json:"engine_a"`
	EngineB    string     `json:"engine_b"`
	SummaryA   Summary    `json:"summary_a"`
	SummaryB   Summary    `json:"summary_b"`
	DeltaPence float64    `json:"delta_pence"` // A minus B
	Diffs      []SlotDiff `json:"diffs"`
}

// Compare lines up two plans slot by slot. The plans must cover the same
// horizon.
func Compare(a, b *Plan) (*Comparison, error) {
	if len(a.Slots) != len(b.Slots) {
		return nil, fmt.Errorf("plan lengths differ, %d vs %d", len(a.Slots), len(b.Slots))
	}
	if len(a.Slots) > 0 && !a.Slots[0].Time.Equal(b.Slots[0].Time) {
		return nil, fmt.Errorf("plan starts differ, %s vs %s", a.Slots[0].Time, b.Slots[0].Time)
	}

	cmp := &Comparison{
		EngineA:  a.Engine,
		EngineB:  b.Engine,
		SummaryA: a.Summary(),
		SummaryB: b.Summary(),
	}
	cmp.DeltaPence = cmp.SummaryA.TotalCostPence - cmp.SummaryB.TotalCostPence

	for i := range a.Slots {
		sa, sb := a.Slots[i], b.Slots[i]
		if sa.Mode == sb.Mode && almostSame(sa.CostPence, sb.CostPence) && almostSame(sa.SocAfter, sb.SocAfter) {
			continue
		}
		cmp.Diffs = append(cmp.Diffs, SlotDiff{
			Index:      i,
			ModeA:      sa.Mode.String(),
			ModeB:      sb.Mode.String(),
			CostAPence: sa.CostPence,
			CostBPence: sb.CostPence,
			SocAfterA:  sa.SocAfter,
			SocAfterB:  sb.SocAfter,
		})
	}
	return cmp, nil
}

func (c *Comparison) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %.1fp, clipped %.2f kWh, final soc %.1f%%\n",
		c.EngineA, c.SummaryA.TotalCostPence, c.SummaryA.TotalClippedKWh, c.SummaryA.FinalSoc)
	fmt.Fprintf(&sb, "%s: %.1fp, clipped %.2f kWh, final soc %.1f%%\n",
		c.EngineB, c.SummaryB.TotalCostPence, c.SummaryB.TotalClippedKWh, c.SummaryB.FinalSoc)
	fmt.Fprintf(&sb, "delta: %.1fp over %d differing slots\n", c.DeltaPence, len(c.Diffs))
	for _, d := range c.Diffs {
		fmt.Fprintf(&sb, "  #%02d %-15s %6.1fp soc %5.1f%%  |  %-15s %6.1fp soc %5.1f%%\n",
			d.Index, d.ModeA, d.CostAPence, d.SocAfterA, d.ModeB, d.CostBPence, d.SocAfterB)
	}
	return sb.String()
}

func almostSame(f1, f2 float64) bool {
	d := f1 - f2
	return d > -1e-9 && d < 1e-9
}
