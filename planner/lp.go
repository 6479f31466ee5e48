package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/calc"
	"github.com/angas/powerplan-go/forecast"
	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/plan"
)

// MathOptimal plans the horizon as one linear program. Energy flows, SOC
// recursion and the export-cap mode switch are all variables of a single
// model, so the answer is optimal for the shared battery physics. It fails
// with ErrInfeasible or ErrSolverTimeout instead of degrading; the caller
// owns the fallback.
type MathOptimal struct {
	cfg Config
	log *slog.Logger
}

func NewMathOptimal(cfg Config, logger *slog.Logger) *MathOptimal {
	return &MathOptimal{cfg: cfg, log: logger}
}

// Per-slot variable block. Charge and discharge are store-side kWh, the grid
// flows are AC-side kWh, u is the grid-first indicator relaxed to [0,1] and
// driven to {0,1} by the solver wrapper.
const (
	varImp = iota
	varExp
	varCharge
	varDischarge
	varClip
	varGridFirst
	varsPerSlot
)

// lpModel is the assembled program in general form:
// minimize objᵀx subject to ineq·x <= ineqRhs and eq·x = eqRhs.
type lpModel struct {
	n       int
	nv      int
	obj     []float64
	eq      [][]float64
	eqRhs   []float64
	ineq    [][]float64
	ineqRhs []float64
}

func (m *lpModel) socIdx(t int) int { return m.n*varsPerSlot + t } // soc after slot t

func (p *MathOptimal) Plan(ctx context.Context, series forecast.Series, state battery.State) (*plan.Plan, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}

	result := &plan.Plan{
		CreatedAt: time.Now(),
		Engine:    plan.EngineMathOptimal,
		StartSoc:  state.Soc,
	}
	n := series.Len()
	if n == 0 {
		return result, nil
	}

	model := p.build(series, state)
	x, err := solveBinary(ctx, model, gridFirstIndices(n))
	if err != nil {
		return nil, err
	}

	slots, err := p.decode(series, state, x, model)
	if err != nil {
		return nil, err
	}
	result.Slots = slots
	return result, nil
}

func (p *MathOptimal) build(series forecast.Series, state battery.State) *lpModel {
	n := series.Len()
	spec := state.Spec
	h := hours.SlotHours
	etaC, etaD := spec.ChargeEfficiency, spec.DischargeEfficiency
	socPerKWh := 100.0 / spec.CapacityKWh

	m := &lpModel{n: n, nv: n*varsPerSlot + n}
	m.obj = make([]float64, m.nv)

	idx := func(t, v int) int { return t*varsPerSlot + v }

	for t := 0; t < n; t++ {
		m.obj[idx(t, varImp)] = series.ImportPrice[t]
		m.obj[idx(t, varExp)] = -series.ExportPrice[t]
		m.obj[idx(t, varClip)] = p.cfg.ClippingPenaltyPence
	}
	// Terminal battery value: ending lower than the entry SOC costs the
	// depleted energy at the final export price, so discharging must beat
	// that opportunity value, not just be profitable in its own slot.
	m.obj[m.socIdx(n-1)] = -spec.CapacityKWh * series.ExportPrice[n-1] / 100.0

	addEq := func(row []float64, rhs float64) {
		m.eq = append(m.eq, row)
		m.eqRhs = append(m.eqRhs, rhs)
	}
	addLe := func(row []float64, rhs float64) {
		m.ineq = append(m.ineq, row)
		m.ineqRhs = append(m.ineqRhs, rhs)
	}
	row := func() []float64 { return make([]float64, m.nv) }

	for t := 0; t < n; t++ {
		// Bus balance: solar + import + delivered discharge covers load,
		// export, the charge drawn from the bus and the clipped remainder.
		balance := row()
		balance[idx(t, varImp)] = 1
		balance[idx(t, varDischarge)] = etaD
		balance[idx(t, varExp)] = -1
		balance[idx(t, varCharge)] = -1 / etaC
		balance[idx(t, varClip)] = -1
		addEq(balance, (series.LoadKw[t]-series.SolarKw[t])*h)

		// SOC recursion, store-side flows scaled to percent.
		soc := row()
		soc[m.socIdx(t)] = 1
		soc[idx(t, varCharge)] = -socPerKWh
		soc[idx(t, varDischarge)] = socPerKWh
		if t == 0 {
			addEq(soc, state.Soc)
		} else {
			soc[m.socIdx(t-1)] = -1
			addEq(soc, 0)
		}

		// Nonnegativity for the flow block.
		for v := 0; v < varsPerSlot; v++ {
			neg := row()
			neg[idx(t, v)] = -1
			addLe(neg, 0)
		}

		// Rate and connection limits, store-side where the variable is.
		ub := func(v int, limit float64) {
			r := row()
			r[idx(t, v)] = 1
			addLe(r, limit)
		}
		ub(varImp, p.cfg.Limits.ImportKw*h)
		ub(varCharge, spec.MaxChargeKw*h*etaC)
		ub(varDischarge, spec.MaxDischargeKw*h/etaD)
		ub(varGridFirst, 1)

		// Export cap lifts from the self-use limit to the grid-first limit
		// as u goes to 1.
		exportCap := row()
		exportCap[idx(t, varExp)] = 1
		exportCap[idx(t, varGridFirst)] = -(p.cfg.Limits.GridFirstExportKw - p.cfg.Limits.SelfUseExportKw) * h
		addLe(exportCap, p.cfg.Limits.SelfUseExportKw*h)

		// SOC window.
		lo := row()
		lo[m.socIdx(t)] = -1
		addLe(lo, -spec.MinSoc)
		hi := row()
		hi[m.socIdx(t)] = 1
		addLe(hi, 100)
	}

	return m
}

func gridFirstIndices(n int) []int {
	idx := make([]int, n)
	for t := 0; t < n; t++ {
		idx[t] = t*varsPerSlot + varGridFirst
	}
	return idx
}

const flowEpsilon = 1e-6

// snapFlow zeroes simplex tolerance dust. The flow variables are constrained
// non-negative, so anything small the solver leaves behind is noise, not a
// real flow.
func snapFlow(v float64) float64 {
	if math.Abs(v) < flowEpsilon {
		return 0
	}
	return v
}

func (p *MathOptimal) decode(series forecast.Series, state battery.State, x []float64, m *lpModel) ([]plan.Slot, error) {
	h := hours.SlotHours
	spec := state.Spec
	slots := make([]plan.Slot, 0, m.n)

	for t := 0; t < m.n; t++ {
		base := t * varsPerSlot
		imp := snapFlow(x[base+varImp])
		exp := snapFlow(x[base+varExp])
		charge := snapFlow(x[base+varCharge])
		discharge := snapFlow(x[base+varDischarge])
		clip := snapFlow(x[base+varClip])
		gridFirst := x[base+varGridFirst] > 0.5

		soc := snapToWindow(x[m.socIdx(t)], spec.MinSoc, 100)
		if st := (battery.State{Spec: spec, Soc: soc}); st.CheckInvariant() != nil {
			return nil, fmt.Errorf("slot %d: %w", t, &battery.InvariantError{Soc: soc, MinSoc: spec.MinSoc})
		}

		solarKWh := series.SolarKw[t] * h
		loadKWh := series.LoadKw[t] * h

		mode := plan.ModeSelfUse
		reason := "optimal self-use"
		switch {
		case gridFirst && exp > p.cfg.Limits.SelfUseExportKw*h+flowEpsilon:
			mode = plan.ModeGridFirst
			reason = "optimal grid-first export"
		case charge/spec.ChargeEfficiency > math.Max(0, solarKWh-loadKWh)+flowEpsilon:
			mode = plan.ModeForceCharge
			reason = "optimal grid charge"
		case discharge*spec.DischargeEfficiency > math.Max(0, loadKWh-solarKWh)+flowEpsilon:
			mode = plan.ModeForceDischarge
			reason = "optimal battery export"
		}

		slots = append(slots, plan.Slot{
			Time:           series.SlotTime(t),
			Mode:           mode,
			GridImportKWh:  imp,
			GridExportKWh:  exp,
			BatteryFlowKWh: charge - discharge,
			SocAfter:       soc,
			CostPence:      calc.SlotCost(imp, exp, series.ImportPrice[t], series.ExportPrice[t]),
			ClippedKWh:     clip,
			Reason:         reason,
		})
	}
	return slots, nil
}

// snapToWindow absorbs solver tolerance drift at the SOC bounds. Anything
// beyond the snap range is a real violation and stays as-is for the
// invariant check to catch.
func snapToWindow(v, lo, hi float64) float64 {
	const snap = 1e-4
	if v < lo && v > lo-snap {
		return lo
	}
	if v > hi && v < hi+snap {
		return hi
	}
	return v
}
