package planner

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/forecast"
	"github.com/angas/powerplan-go/plan"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec() battery.Spec {
	return battery.Spec{
		CapacityKWh:         10.0,
		MinSoc:              10.0,
		MaxChargeKw:         3.0,
		MaxDischargeKw:      3.0,
		ChargeEfficiency:    0.95,
		DischargeEfficiency: 0.95,
	}
}

func testState(soc float64) battery.State {
	return battery.State{Spec: testSpec(), Soc: soc}
}

func flatSeries(n int, imp, exp, solarKw, loadKw float64) forecast.Series {
	s := forecast.Series{
		Start:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ImportPrice: make([]float64, n),
		ExportPrice: make([]float64, n),
		SolarKw:     make([]float64, n),
		LoadKw:      make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.ImportPrice[i] = imp
		s.ExportPrice[i] = exp
		s.SolarKw[i] = solarKw
		s.LoadKw[i] = loadKw
	}
	return s
}

func almostEqual(f1 float64, f2 float64) bool {
	return math.Abs(f1-f2) < 1e-9
}

func TestRuleEmptyForecast(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	result, err := p.Plan(flatSeries(0, 30, 15, 0, 1), testState(50))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) != 0 {
		t.Errorf("got %d slots, wanted 0", len(result.Slots))
	}
	if result.Engine != plan.EngineRuleBased {
		t.Errorf("got engine %q", result.Engine)
	}
}

func TestRuleRejectsMismatchedSeries(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(4, 30, 15, 0, 1)
	series.LoadKw = series.LoadKw[:3]
	if _, err := p.Plan(series, testState(50)); !errors.Is(err, forecast.ErrSeriesMismatch) {
		t.Errorf("got %v, wanted series mismatch", err)
	}
}

func TestRuleFlatPricesAllSelfUse(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	// No solar, no price spread, battery at its floor: every slot is plain
	// consumption from the grid.
	result, err := p.Plan(flatSeries(4, 30, 15, 0, 1), testState(10))
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
	if sum := result.Summary().TotalCostPence; !almostEqual(sum, 4*0.5*30) {
		t.Errorf("got cost %f, wanted 60", sum)
	}
}

func TestRulePlanLengthContinuityAndBounds(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(12, 25, 12, 0, 1.5)
	for i := 4; i < 10; i++ {
		series.SolarKw[i] = 7.0
	}
	series.ImportPrice[2] = 8.0
	series.ExportPrice[10] = 30.0

	state := testState(55)
	result, err := p.Plan(series, state)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) != series.Len() {
		t.Fatalf("got %d slots, wanted %d", len(result.Slots), series.Len())
	}
	if err := result.Validate(state.Spec); err != nil {
		t.Errorf("plan invalid: %v", err)
	}
	soc := result.StartSoc
	for i, slot := range result.Slots {
		if slot.SocAfter < state.MinSoc-1e-6 || slot.SocAfter > 100+1e-6 {
			t.Errorf("slot %d: soc %f outside window", i, slot.SocAfter)
		}
		soc += state.Spec.KWhToSoc(slot.BatteryFlowKWh)
		if !almostEqual(soc, slot.SocAfter) {
			t.Errorf("slot %d: soc %f does not follow from the battery flow chain (want %f)", i, slot.SocAfter, soc)
		}
	}
}

func TestRuleIdempotent(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(8, 25, 12, 0, 1.5)
	series.SolarKw[4] = 6.0
	series.ImportPrice[1] = 5.0
	series.ExportPrice[6] = 40.0

	first, err := p.Plan(series, testState(40))
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Plan(series, testState(40))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.Slots, second.Slots) {
		t.Error("identical inputs produced different plans")
	}
}

func TestRuleBelowFloorRecovery(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	result, err := p.Plan(flatSeries(4, 30, 15, 0, 1), testState(5))
	if err != nil {
		t.Fatal(err)
	}
	first := result.Slots[0]
	if first.Mode != plan.ModeForceCharge {
		t.Fatalf("got %v, wanted force-charge at slot 0", first.Mode)
	}
	if first.Reason != "reserve floor recovery" {
		t.Errorf("got reason %q", first.Reason)
	}
	if first.SocAfter <= 5 {
		t.Errorf("got soc %f, wanted recovery above 5", first.SocAfter)
	}
}

func TestRuleArbitrage(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(4, 0, 0, 0, 0)
	series.ImportPrice = []float64{10, 10, 40, 40}
	series.ExportPrice = []float64{5, 5, 35, 35}

	result, err := p.Plan(series, testState(10))
	if err != nil {
		t.Fatal(err)
	}

	want := []plan.Mode{plan.ModeForceCharge, plan.ModeForceCharge, plan.ModeForceDischarge, plan.ModeForceDischarge}
	for i, slot := range result.Slots {
		if slot.Mode != want[i] {
			t.Errorf("slot %d: got %v, wanted %v", i, slot.Mode, want[i])
		}
	}
	if sum := result.Summary().TotalCostPence; sum >= 0 {
		t.Errorf("got cost %f, wanted a profit", sum)
	}
}

func TestRulePresunriseDischarge(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(8, 30, 15, 0, 0.5)
	for i := 2; i < 8; i++ {
		series.SolarKw[i] = 6.0
	}

	// 18 kWh of sun against 2 kWh of headroom and 2 kWh of load: make room
	// before sunrise.
	result, err := p.Plan(series, testState(80))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if result.Slots[i].Mode != plan.ModeForceDischarge {
			t.Errorf("slot %d: got %v, wanted pre-sunrise force-discharge", i, result.Slots[i].Mode)
		}
		if result.Slots[i].Reason != "pre-sunrise discharge" {
			t.Errorf("slot %d: got reason %q", i, result.Slots[i].Reason)
		}
	}
	if result.Slots[1].SocAfter >= result.Slots[0].SocAfter {
		t.Error("pre-sunrise slots did not keep discharging")
	}
}

func TestRuleGridFirstWindow(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	// 12 kW of sun all day against 3 kWh of headroom: self-use would clip
	// heavily, so the whole production span runs grid-first.
	series := flatSeries(6, 30, 15, 12, 1)

	result, err := p.Plan(series, testState(70))
	if err != nil {
		t.Fatal(err)
	}
	for i, slot := range result.Slots {
		if slot.Mode != plan.ModeGridFirst {
			t.Errorf("slot %d: got %v, wanted grid-first", i, slot.Mode)
		}
		if slot.SocAfter < 100-1e-6 && slot.ClippedKWh > 1e-9 {
			t.Errorf("slot %d: clipped %f kWh while battery at %f%%", i, slot.ClippedKWh, slot.SocAfter)
		}
	}
}

func TestRuleDeficitPrevention(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(3, 0, 0, 0, 2)
	series.ImportPrice = []float64{20, 30, 30}

	// Empty battery, 2 kWh of load coming at worse prices: charge now.
	result, err := p.Plan(series, testState(10))
	if err != nil {
		t.Fatal(err)
	}
	if result.Slots[0].Mode != plan.ModeForceCharge {
		t.Fatalf("got %v, wanted force-charge", result.Slots[0].Mode)
	}
	if result.Slots[0].Reason != "deficit prevention" {
		t.Errorf("got reason %q", result.Slots[0].Reason)
	}
	if result.Slots[1].Mode != plan.ModeSelfUse {
		t.Errorf("slot 1: got %v, wanted self-use", result.Slots[1].Mode)
	}
}
