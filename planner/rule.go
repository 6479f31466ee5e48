package planner

import (
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

// RuleBased plans the horizon with fixed-precedence rules. The first rule
// that fires decides a slot's mode; the battery simulation then computes the
// actual flows. One backward pass finds the grid-first window, one forward
// pass decides every slot.
type RuleBased struct {
	cfg Config
	log *slog.Logger
}

func NewRuleBased(cfg Config, logger *slog.Logger) *RuleBased {
	return &RuleBased{cfg: cfg, log: logger}
}

func (p *RuleBased) Plan(series forecast.Series, state battery.State) (*plan.Plan, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	if err := state.CheckInvariant(); err != nil && state.Soc <= 100 {
		// Below the reserve floor is an operational condition here, not a
		// defect: the first slot recovers it. Above 100 is still fatal.
		p.log.Warn("battery entered planning below its reserve floor", slog.Float64("soc", state.Soc))
	} else if err != nil {
		return nil, err
	}

	result := &plan.Plan{
		CreatedAt: time.Now(),
		Engine:    plan.EngineRuleBased,
		StartSoc:  state.Soc,
	}
	n := series.Len()
	if n == 0 {
		return result, nil
	}

	sunrise, solarEnd := p.solarSpan(series)
	winStart, winEnd, winActive := p.gridFirstWindow(series, state, solarEnd)
	dischargeTarget, presunrise := p.presunriseTarget(series, state)
	maxFutExp, minPastImp := pricePivots(series)

	if winActive {
		p.log.Debug("grid-first window engaged",
			slog.Int("from", winStart), slog.Int("to", winEnd))
	}

	st := state
	result.Slots = make([]plan.Slot, 0, n)
	for i := 0; i < n; i++ {
		mode, rate, target, reason := p.decide(series, st, i,
			sunrise, winStart, winEnd, winActive, dischargeTarget, presunrise, maxFutExp, minPastImp)

		res := p.simulate(st, series, i, mode, rate, target)
		if err := res.State.CheckInvariant(); err != nil {
			// While recovering from a below-floor entry the SOC may stay
			// under MinSoc for a few slots as long as it is not sinking.
			if res.State.Soc > 100 || res.State.Soc < st.Soc {
				return nil, fmt.Errorf("slot %d (%s): %w", i, mode, err)
			}
		}

		result.Slots = append(result.Slots, plan.Slot{
			Time:           series.SlotTime(i),
			Mode:           mode,
			GridImportKWh:  res.GridImportKWh,
			GridExportKWh:  res.GridExportKWh,
			BatteryFlowKWh: res.BatteryFlow,
			SocAfter:       res.State.Soc,
			CostPence:      calc.SlotCost(res.GridImportKWh, res.GridExportKWh, series.ImportPrice[i], series.ExportPrice[i]),
			ClippedKWh:     res.ClippedKWh,
			Reason:         reason,
		})
		st = res.State
	}

	return result, nil
}

// decide evaluates the rules in precedence order for slot i.
func (p *RuleBased) decide(
	series forecast.Series, st battery.State, i int,
	sunrise, winStart, winEnd int, winActive bool,
	dischargeTarget float64, presunrise bool,
	maxFutExp, minPastImp []float64,
) (mode plan.Mode, rateKw, targetSoc float64, reason string) {
	// A battery under its reserve floor recovers first, whatever the price.
	if st.Soc < st.MinSoc {
		return plan.ModeForceCharge, st.MaxChargeKw, 0, "reserve floor recovery"
	}

	if winActive && i >= winStart && i < winEnd && series.SolarKw[i] > p.cfg.MinSolarKw {
		return plan.ModeGridFirst, 0, 0, "grid-first window"
	}

	if presunrise && i < sunrise && st.Soc > dischargeTarget {
		return plan.ModeForceDischarge, st.MaxDischargeKw, dischargeTarget, "pre-sunrise discharge"
	}

	etaRT := st.RoundTripEfficiency()
	if maxFutExp[i]*etaRT-series.ImportPrice[i] > p.cfg.ArbitrageMarginPence && st.HeadroomKWh() > 0 {
		return plan.ModeForceCharge, st.MaxChargeKw, 0, "arbitrage charge"
	}
	// Sell at the remaining export peak, and only when the round trip beat
	// the cheapest import seen before it.
	if series.ExportPrice[i] >= maxFutExp[i] &&
		series.ExportPrice[i]*etaRT-minPastImp[i] > p.cfg.ArbitrageMarginPence &&
		st.AvailableKWh() > 0 {
		return plan.ModeForceDischarge, st.MaxDischargeKw, st.MinSoc, "arbitrage discharge"
	}

	if rate, needed := p.deficitChargeRate(series, st, i); needed {
		return plan.ModeForceCharge, rate, 0, "deficit prevention"
	}

	return plan.ModeSelfUse, 0, 0, "self-use"
}

func (p *RuleBased) simulate(st battery.State, series forecast.Series, i int, mode plan.Mode, rateKw, targetSoc float64) battery.SlotResult {
	solar, load := series.SolarKw[i], series.LoadKw[i]
	switch mode {
	case plan.ModeGridFirst:
		return battery.SimulateGridFirst(st, solar, load, hours.SlotHours, p.cfg.Limits)
	case plan.ModeForceCharge:
		return battery.SimulateForceCharge(st, solar, load, hours.SlotHours, rateKw, p.cfg.Limits)
	case plan.ModeForceDischarge:
		return battery.SimulateForceDischarge(st, solar, load, hours.SlotHours, rateKw, targetSoc, p.cfg.Limits)
	default:
		return battery.SimulateSelfUse(st, solar, load, hours.SlotHours, p.cfg.Limits)
	}
}

// deficitChargeRate simulates self-use ahead until the next slot that is no
// more expensive than this one. When the battery would hit its floor and
// leave load on the grid at worse prices before that point, it returns the
// smallest charge rate that covers the shortfall now.
func (p *RuleBased) deficitChargeRate(series forecast.Series, st battery.State, i int) (float64, bool) {
	ahead := st
	var shortfallKWh float64
	for j := i; j < series.Len(); j++ {
		if j > i && series.ImportPrice[j] <= series.ImportPrice[i] {
			break
		}
		res := battery.SimulateSelfUse(ahead, series.SolarKw[j], series.LoadKw[j], hours.SlotHours, p.cfg.Limits)
		if j > i {
			shortfallKWh += res.GridImportKWh
		}
		ahead = res.State
	}
	if shortfallKWh <= p.cfg.DeficitToleranceKWh {
		return 0, false
	}

	// Delivered shortfall back-converted to the AC-side charge that stores it.
	acKWh := shortfallKWh / st.DischargeEfficiency / st.ChargeEfficiency
	rate := math.Min(st.MaxChargeKw, acKWh/hours.SlotHours)
	return rate, true
}

// pricePivots returns, for each slot, the best export price among later
// slots and the cheapest import price among earlier ones. Boundary slots get
// sentinels that can never fire the arbitrage rule.
func pricePivots(series forecast.Series) (maxFutExp, minPastImp []float64) {
	n := series.Len()
	maxFutExp = make([]float64, n)
	minPastImp = make([]float64, n)

	bestExp := math.Inf(-1)
	for i := n - 1; i >= 0; i-- {
		maxFutExp[i] = bestExp
		if series.ExportPrice[i] > bestExp {
			bestExp = series.ExportPrice[i]
		}
	}

	bestImp := math.Inf(1)
	for i := 0; i < n; i++ {
		minPastImp[i] = bestImp
		if series.ImportPrice[i] < bestImp {
			bestImp = series.ImportPrice[i]
		}
	}
	return maxFutExp, minPastImp
}
