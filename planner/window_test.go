package planner

import (
	"math"
	"testing"
)

func TestSolarSpan(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())

	series := flatSeries(8, 30, 15, 0, 1)
	sunrise, solarEnd := p.solarSpan(series)
	if sunrise != 0 || solarEnd != 0 {
		t.Errorf("got span %d..%d for a sunless day, wanted 0..0", sunrise, solarEnd)
	}

	series.SolarKw[3] = 2.0
	series.SolarKw[4] = 4.0
	series.SolarKw[5] = 1.0
	sunrise, solarEnd = p.solarSpan(series)
	if sunrise != 3 || solarEnd != 6 {
		t.Errorf("got span %d..%d, wanted 3..6", sunrise, solarEnd)
	}
}

func TestGridFirstWindowInactiveWithHeadroom(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(6, 30, 15, 4, 1)

	// 3 kW net never exceeds the self-use export cap, nothing is forced
	// into the battery.
	_, _, active := p.gridFirstWindow(series, testState(50), 6)
	if active {
		t.Error("window engaged without clipping risk")
	}
}

func TestGridFirstWindowWidensUntilItFits(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())
	series := flatSeries(6, 30, 15, 0, 1)
	// Production ramps up toward the afternoon.
	copy(series.SolarKw, []float64{6, 6, 6, 12, 12, 12})

	// Morning net of 5 kW fits the self-use export cap; each afternoon slot
	// forces 2.85 kWh into the battery. With 4 kWh of headroom the sweep
	// only needs to swap the afternoon slots to grid-first.
	start, end, active := p.gridFirstWindow(series, testState(60), 6)
	if !active {
		t.Fatal("window did not engage")
	}
	if start != 3 || end != 6 {
		t.Errorf("got window %d..%d, wanted 3..6", start, end)
	}
}

func TestPresunriseTarget(t *testing.T) {
	p := NewRuleBased(DefaultConfig(), testLogger())

	mild := flatSeries(8, 30, 15, 1, 1)
	if _, active := p.presunriseTarget(mild, testState(80)); active {
		t.Error("fired on a day the battery can absorb")
	}

	sunny := flatSeries(8, 30, 15, 0, 0.5)
	for i := 2; i < 8; i++ {
		sunny.SolarKw[i] = 6.0
	}
	target, active := p.presunriseTarget(sunny, testState(80))
	if !active {
		t.Fatal("did not fire on an oversupplied day")
	}
	if target != 10.0 {
		t.Errorf("got target %f, wanted the reserve floor", target)
	}
}

func TestPricePivots(t *testing.T) {
	series := flatSeries(4, 0, 0, 0, 0)
	series.ImportPrice = []float64{10, 30, 5, 20}
	series.ExportPrice = []float64{8, 25, 4, 18}

	maxFutExp, minPastImp := pricePivots(series)

	if maxFutExp[0] != 25 || maxFutExp[1] != 18 || maxFutExp[2] != 18 {
		t.Errorf("got future export peaks %v", maxFutExp)
	}
	if !math.IsInf(maxFutExp[3], -1) {
		t.Errorf("last slot future peak should be -inf, got %f", maxFutExp[3])
	}
	if !math.IsInf(minPastImp[0], 1) {
		t.Errorf("first slot past minimum should be +inf, got %f", minPastImp[0])
	}
	if minPastImp[1] != 10 || minPastImp[2] != 10 || minPastImp[3] != 5 {
		t.Errorf("got past import minimums %v", minPastImp)
	}
}
