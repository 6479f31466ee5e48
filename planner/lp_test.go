package planner

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/forecast"
	"github.com/angas/powerplan-go/plan"
)

func TestLPEmptyForecast(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	result, err := p.Plan(context.Background(), flatSeries(0, 30, 15, 0, 1), testState(50))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) != 0 {
		t.Errorf("got %d slots, wanted 0", len(result.Slots))
	}
	if result.Engine != plan.EngineMathOptimal {
		t.Errorf("got engine %q", result.Engine)
	}
}

func TestLPRejectsMismatchedSeries(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	series := flatSeries(4, 30, 15, 0, 1)
	series.SolarKw = series.SolarKw[:2]
	if _, err := p.Plan(context.Background(), series, testState(50)); !errors.Is(err, forecast.ErrSeriesMismatch) {
		t.Errorf("got %v, wanted series mismatch", err)
	}
}

func TestLPFlatPricesPlainConsumption(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	// Empty battery, no sun, no spread: the only feasible economy is to buy
	// exactly the load.
	result, err := p.Plan(context.Background(), flatSeries(4, 30, 15, 0, 1), testState(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) != 4 {
		t.Fatalf("got %d slots, wanted 4", len(result.Slots))
	}
	for i, slot := range result.Slots {
		if slot.Mode != plan.ModeSelfUse {
			t.Errorf("slot %d: got %v, wanted self-use", i, slot.Mode)
		}
	}
	sum := result.Summary()
	if !almostEqual(sum.TotalCostPence, 4*0.5*30) {
		t.Errorf("got cost %f, wanted 60", sum.TotalCostPence)
	}
	if !almostEqual(sum.FinalSoc, 10.0) {
		t.Errorf("got final soc %f, wanted 10", sum.FinalSoc)
	}
}

func terminalValueScenario(peakExport float64) (forecast.Series, battery.State) {
	series := flatSeries(4, 100, 14.9, 0, 0)
	series.ExportPrice[0] = peakExport
	series.ExportPrice[3] = 15.0
	state := battery.State{
		Spec: battery.Spec{
			CapacityKWh:         32.0,
			MinSoc:              10.0,
			MaxChargeKw:         4.0,
			MaxDischargeKw:      4.0,
			ChargeEfficiency:    0.95,
			DischargeEfficiency: 0.95,
		},
		Soc: 80.0,
	}
	return series, state
}

func TestLPKeepsChargeWhenDischargeCannotBeatTerminalValue(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	// Best export pays 14.9p for 0.95 delivered kWh per stored kWh, while
	// ending lower costs 15p per stored kWh. Holding wins.
	series, state := terminalValueScenario(14.9)

	result, err := p.Plan(context.Background(), series, state)
	if err != nil {
		t.Fatal(err)
	}
	sum := result.Summary()
	if !almostEqual(sum.FinalSoc, 80.0) {
		t.Errorf("got final soc %f, wanted 80 held", sum.FinalSoc)
	}
	if sum.TotalCostPence > 1e-6 {
		t.Errorf("got cost %f, wanted 0", sum.TotalCostPence)
	}
}

func TestLPDischargesWhenProfitBeatsTerminalValue(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	// 20p export earns 19p per stored kWh against the 15p terminal value.
	series, state := terminalValueScenario(20.0)

	result, err := p.Plan(context.Background(), series, state)
	if err != nil {
		t.Fatal(err)
	}
	if result.Slots[0].Mode != plan.ModeForceDischarge {
		t.Errorf("got %v, wanted force-discharge in the peak slot", result.Slots[0].Mode)
	}
	sum := result.Summary()
	if sum.FinalSoc >= 79.0 {
		t.Errorf("got final soc %f, wanted a real discharge", sum.FinalSoc)
	}
	if sum.TotalCostPence >= 0 {
		t.Errorf("got cost %f, wanted a profit", sum.TotalCostPence)
	}
}

func TestLPSocFollowsBatteryFlows(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	series := flatSeries(12, 25, 12, 0, 1.5)
	for i := 4; i < 10; i++ {
		series.SolarKw[i] = 7.0
	}
	series.ImportPrice[2] = 8.0
	series.ExportPrice[10] = 30.0

	state := testState(55)
	result, err := p.Plan(context.Background(), series, state)
	if err != nil {
		t.Fatal(err)
	}
	if err := result.Validate(state.Spec); err != nil {
		t.Errorf("plan invalid: %v", err)
	}
	soc := result.StartSoc
	for i, slot := range result.Slots {
		soc += state.Spec.KWhToSoc(slot.BatteryFlowKWh)
		if math.Abs(soc-slot.SocAfter) > 1e-3 {
			t.Errorf("slot %d: soc %f does not follow from the battery flow chain (want %f)", i, slot.SocAfter, soc)
		}
		soc = slot.SocAfter
	}
}

func TestLPFlowsNonNegative(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	series := flatSeries(12, 25, 12, 0, 1.5)
	for i := 4; i < 10; i++ {
		series.SolarKw[i] = 7.0
	}
	series.ExportPrice[10] = 30.0

	result, err := p.Plan(context.Background(), series, testState(55))
	if err != nil {
		t.Fatal(err)
	}
	for i, slot := range result.Slots {
		if slot.GridImportKWh < 0 {
			t.Errorf("slot %d: negative grid import %g", i, slot.GridImportKWh)
		}
		if slot.GridExportKWh < 0 {
			t.Errorf("slot %d: negative grid export %g", i, slot.GridExportKWh)
		}
		if slot.ClippedKWh < 0 {
			t.Errorf("slot %d: negative clipped energy %g", i, slot.ClippedKWh)
		}
	}
}

func TestLPInfeasibleSurfaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.ImportKw = 1.0
	p := NewMathOptimal(cfg, testLogger())

	// 5 kWh of load per slot against 0.5 kWh of import and an empty
	// battery: no feasible balance exists.
	_, err := p.Plan(context.Background(), flatSeries(3, 30, 15, 0, 10), testState(10))
	if !errors.Is(err, ErrInfeasible) {
		t.Errorf("got %v, wanted ErrInfeasible", err)
	}
}

func TestLPTimeoutSurfaces(t *testing.T) {
	p := NewMathOptimal(DefaultConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Plan(ctx, flatSeries(4, 30, 15, 0, 1), testState(50))
	if !errors.Is(err, ErrSolverTimeout) {
		t.Errorf("got %v, wanted ErrSolverTimeout", err)
	}
}

// adjustedCost puts both planners on the LP's objective scale: grid cost
// plus depletion of stored energy valued at the terminal export price.
func adjustedCost(p *plan.Plan, spec battery.Spec, terminalExport float64) float64 {
	sum := p.Summary()
	return sum.TotalCostPence + (p.StartSoc-sum.FinalSoc)/100.0*spec.CapacityKWh*terminalExport
}

func TestLPNeverWorseThanRulePlanner(t *testing.T) {
	if testing.Short() {
		t.Skip("full-day solve")
	}

	series := flatSeries(48, 0, 0, 0, 1)
	for i := 0; i < 48; i++ {
		switch i % 4 {
		case 0:
			series.ImportPrice[i] = 5
		case 2:
			series.ImportPrice[i] = 50
		default:
			series.ImportPrice[i] = 20
		}
		series.ExportPrice[i] = series.ImportPrice[i] * 0.8
	}
	for i := 16; i < 36; i++ {
		series.SolarKw[i] = 4.0
	}

	// 2 kW rates keep every mode inside the export caps, so neither plan
	// clips and the comparison is purely about cost.
	spec := testSpec()
	spec.MaxChargeKw = 2.0
	spec.MaxDischargeKw = 2.0
	state := battery.State{Spec: spec, Soc: 50.0}

	rulePlan, err := NewRuleBased(DefaultConfig(), testLogger()).Plan(series, state)
	if err != nil {
		t.Fatal(err)
	}
	lpPlan, err := NewMathOptimal(DefaultConfig(), testLogger()).Plan(context.Background(), series, state)
	if err != nil {
		t.Fatal(err)
	}

	if clipped := rulePlan.Summary().TotalClippedKWh; clipped > 1e-9 {
		t.Fatalf("scenario should not clip, rule plan clipped %f kWh", clipped)
	}

	terminal := series.ExportPrice[47]
	ruleCost := adjustedCost(rulePlan, spec, terminal)
	lpCost := adjustedCost(lpPlan, spec, terminal)
	if lpCost > ruleCost+1e-6 {
		t.Errorf("lp cost %f worse than rule cost %f", lpCost, ruleCost)
	}
}
