package planner

import (
	"math"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/forecast"
	"github.com/angas/powerplan-go/hours"
)

// solarSpan returns the first slot with meaningful production and one past
// the last. Both are 0 when the forecast holds no sun at all.
func (p *RuleBased) solarSpan(series forecast.Series) (sunrise, solarEnd int) {
	sunrise = -1
	for i := 0; i < series.Len(); i++ {
		if series.SolarKw[i] > p.cfg.MinSolarKw {
			if sunrise < 0 {
				sunrise = i
			}
			solarEnd = i + 1
		}
	}
	if sunrise < 0 {
		return 0, 0
	}
	return sunrise, solarEnd
}

// gridFirstWindow finds the slots that should run grid-first to keep solar
// from being clipped. It sweeps backward from the end of production with an
// accumulator of the energy the battery would be forced to absorb, widening
// the window one slot at a time until the battery's headroom can carry what
// remains. The window engages when projected clipping exceeds the configured
// risk, or when the battery would be full before production subsides.
func (p *RuleBased) gridFirstWindow(series forecast.Series, state battery.State, solarEnd int) (start, end int, active bool) {
	if solarEnd == 0 {
		return 0, 0, false
	}

	// Stored energy forced into the battery per slot under each export cap.
	selfStored := make([]float64, solarEnd)
	gfStored := make([]float64, solarEnd)
	var selfTotal float64
	for i := 0; i < solarEnd; i++ {
		net := series.SolarKw[i] - series.LoadKw[i]
		selfStored[i] = storedKWh(net, p.cfg.Limits.SelfUseExportKw, state.Spec)
		gfStored[i] = storedKWh(net, p.cfg.Limits.GridFirstExportKw, state.Spec)
		selfTotal += selfStored[i]
	}

	headroom := state.HeadroomKWh()
	projectedClip := selfTotal - headroom
	fullBeforeEnd := false
	var cum float64
	for i := 0; i < solarEnd-1; i++ {
		cum += selfStored[i]
		if cum >= headroom && headroom > 0 {
			fullBeforeEnd = true
			break
		}
	}

	if projectedClip <= p.cfg.ClippingRiskKWh && !fullBeforeEnd {
		return 0, 0, false
	}

	// Backward sweep: swap self-use slots for grid-first ones, newest first,
	// until the remaining absorption fits the headroom.
	total := selfTotal
	start = solarEnd
	for start > 0 && total > headroom {
		start--
		total += gfStored[start] - selfStored[start]
	}
	return start, solarEnd, true
}

// storedKWh is the energy one slot pushes into the battery when surplus
// beyond the export cap has nowhere else to go. Battery absorption is not
// rate-capped here on purpose: the sweep wants the clipping-free ideal, the
// simulation applies the real limits.
func storedKWh(netKw, exportCapKw float64, spec battery.Spec) float64 {
	surplus := netKw - exportCapKw
	if surplus <= 0 {
		return 0
	}
	return surplus * hours.SlotHours * spec.ChargeEfficiency
}

// presunriseTarget decides whether to empty the battery ahead of sunrise and
// to what SOC. It fires when the forecast day produces more than the load
// plus the battery's current headroom can take.
func (p *RuleBased) presunriseTarget(series forecast.Series, state battery.State) (targetSoc float64, active bool) {
	totalSolar := series.TotalSolarKWh()
	totalLoad := series.TotalLoadKWh()
	if totalSolar <= state.HeadroomKWh()+totalLoad+p.cfg.PresunriseMarginKWh {
		return 0, false
	}

	surplus := totalSolar - totalLoad
	target := math.Max(state.MinSoc, 100-state.KWhToSoc(surplus))
	return target, true
}
