package battery

import (
	"math"
	"testing"
)

func testSpec() Spec {
	return Spec{
		CapacityKWh:         10.0,
		MinSoc:              10.0,
		MaxChargeKw:         3.0,
		MaxDischargeKw:      3.0,
		ChargeEfficiency:    0.95,
		DischargeEfficiency: 0.95,
	}
}

func almostEqual(f1 float64, f2 float64) bool {
	return math.Abs(f1-f2) < 1e-9
}

func TestApplyCharge(t *testing.T) {
	st := State{Spec: testSpec(), Soc: 50.0}
	next, moved, clipped := st.Apply(2.0, 0.5)

	if !almostEqual(moved, 1.0) {
		t.Errorf("got moved %f, wanted 1.0", moved)
	}
	if !almostEqual(clipped, 0.0) {
		t.Errorf("got clipped %f, wanted 0", clipped)
	}
	// 1.0 kWh from the bus stores 0.95 kWh
	if !almostEqual(next.Soc, 59.5) {
		t.Errorf("got soc %f, wanted 59.5", next.Soc)
	}
	if st.Soc != 50.0 {
		t.Error("Apply mutated its receiver")
	}
}

func TestApplyChargeRateClamp(t *testing.T) {
	st := State{Spec: testSpec(), Soc: 50.0}
	next, moved, clipped := st.Apply(10.0, 0.5)

	if !almostEqual(moved, 1.5) {
		t.Errorf("got moved %f, wanted 1.5 (rate limited)", moved)
	}
	if !almostEqual(clipped, 3.5) {
		t.Errorf("got clipped %f, wanted 3.5", clipped)
	}
	if !almostEqual(next.Soc, 64.25) {
		t.Errorf("got soc %f, wanted 64.25", next.Soc)
	}
}

func TestApplyChargeHeadroomClamp(t *testing.T) {
	st := State{Spec: testSpec(), Soc: 99.0}
	next, moved, clipped := st.Apply(3.0, 0.5)

	if !almostEqual(next.Soc, 100.0) {
		t.Errorf("got soc %f, wanted 100", next.Soc)
	}
	if !almostEqual(moved, 0.1/0.95) {
		t.Errorf("got moved %f, wanted %f", moved, 0.1/0.95)
	}
	if !almostEqual(moved+clipped, 1.5) {
		t.Errorf("moved+clipped = %f, wanted 1.5", moved+clipped)
	}
}

func TestApplyDischarge(t *testing.T) {
	st := State{Spec: testSpec(), Soc: 50.0}
	next, moved, clipped := st.Apply(-2.0, 0.5)

	if !almostEqual(moved, -1.0) {
		t.Errorf("got moved %f, wanted -1.0", moved)
	}
	if !almostEqual(clipped, 0.0) {
		t.Errorf("got clipped %f, wanted 0", clipped)
	}
	// Delivering 1.0 kWh drains 1/0.95 kWh from the store
	if !almostEqual(next.Soc, 50.0-100.0/0.95/10.0) {
		t.Errorf("got soc %f", next.Soc)
	}
}

func TestApplyDischargeReserveClamp(t *testing.T) {
	st := State{Spec: testSpec(), Soc: 12.0}
	next, moved, clipped := st.Apply(-3.0, 0.5)

	if !almostEqual(next.Soc, 10.0) {
		t.Errorf("got soc %f, wanted 10 (reserve floor)", next.Soc)
	}
	// 0.2 kWh available delivers 0.19 kWh
	if !almostEqual(moved, -0.19) {
		t.Errorf("got moved %f, wanted -0.19", moved)
	}
	if !almostEqual(clipped, 1.5-0.19) {
		t.Errorf("got clipped %f, wanted %f", clipped, 1.5-0.19)
	}
}

func TestCheckInvariant(t *testing.T) {
	ok := State{Spec: testSpec(), Soc: 55.0}
	if err := ok.CheckInvariant(); err != nil {
		t.Errorf("valid state flagged: %v", err)
	}

	low := State{Spec: testSpec(), Soc: 9.0}
	if err := low.CheckInvariant(); err == nil {
		t.Error("soc below reserve not flagged")
	}

	high := State{Spec: testSpec(), Soc: 100.5}
	if err := high.CheckInvariant(); err == nil {
		t.Error("soc above 100 not flagged")
	}
}

func TestFlowKWh(t *testing.T) {
	before := State{Spec: testSpec(), Soc: 50.0}
	after, _, _ := before.Apply(2.0, 0.5)
	if !almostEqual(FlowKWh(before, after), 0.95) {
		t.Errorf("got flow %f, wanted 0.95", FlowKWh(before, after))
	}
}
