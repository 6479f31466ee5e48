package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/angas/powerplan-go/hours"
)

func TestValidateEqualLengths(t *testing.T) {
	s := Series{
		Start:       time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		ImportPrice: []float64{10, 12},
		ExportPrice: []float64{5, 5},
		SolarKw:     []float64{0, 1},
		LoadKw:      []float64{1, 1},
	}
	if err := s.Validate(); err != nil {
		t.Errorf("valid series rejected: %v", err)
	}
}

func TestValidateMismatch(t *testing.T) {
	s := Series{
		ImportPrice: []float64{10, 12},
		ExportPrice: []float64{5},
		SolarKw:     []float64{0, 1},
		LoadKw:      []float64{1, 1},
	}
	err := s.Validate()
	if !errors.Is(err, ErrSeriesMismatch) {
		t.Errorf("got %v, wanted ErrSeriesMismatch", err)
	}
}

func TestValidateEmpty(t *testing.T) {
	if err := (Series{}).Validate(); err != nil {
		t.Errorf("empty series should be valid, got %v", err)
	}
}

func TestSlotTimeAndTotals(t *testing.T) {
	s := Series{
		Start:       time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC),
		ImportPrice: []float64{10, 10, 10},
		ExportPrice: []float64{5, 5, 5},
		SolarKw:     []float64{0, 2, 4},
		LoadKw:      []float64{1, 1, 1},
	}
	if got := s.SlotTime(2); !got.Equal(s.Start.Add(2 * hours.SlotDuration)) {
		t.Errorf("got slot time %s", got)
	}
	if got := s.TotalSolarKWh(); got != 3.0 {
		t.Errorf("got total solar %f, wanted 3.0", got)
	}
	if got := s.TotalLoadKWh(); got != 1.5 {
		t.Errorf("got total load %f, wanted 1.5", got)
	}
}
