// Package forecast holds the time-aligned input series the planners consume.
// The planners never fetch data themselves; an external collaborator fills a
// Series and hands it over per planning cycle.
package forecast

import (
	"errors"
	"fmt"
	"time"

	"github.com/angas/powerplan-go/hours"
)

// ErrSeriesMismatch is returned when the four series are not equally long.
var ErrSeriesMismatch = errors.New("forecast series length mismatch")

// Series is a half-hour cadence forecast starting at Start. Prices are in
// pence/kWh, power in kW. All four slices must have the same length.
type Series struct {
	Start       time.Time
	ImportPrice []float64
	ExportPrice []float64
	SolarKw     []float64
	LoadKw      []float64
}

func (s Series) Len() int {
	return len(s.ImportPrice)
}

// SlotTime returns the start time of slot i.
func (s Series) SlotTime(i int) time.Time {
	return s.Start.Add(time.Duration(i) * hours.SlotDuration)
}

func (s Series) Validate() error {
	n := len(s.ImportPrice)
	if len(s.ExportPrice) != n || len(s.SolarKw) != n || len(s.LoadKw) != n {
		return fmt.Errorf("%w: import=%d export=%d solar=%d load=%d",
			ErrSeriesMismatch, n, len(s.ExportPrice), len(s.SolarKw), len(s.LoadKw))
	}
	return nil
}

// TotalSolarKWh is the energy the solar forecast adds up to.
func (s Series) TotalSolarKWh() float64 {
	var sum float64
	for _, kw := range s.SolarKw {
		sum += kw * hours.SlotHours
	}
	return sum
}

// TotalLoadKWh is the energy the load forecast adds up to.
func (s Series) TotalLoadKWh() float64 {
	var sum float64
	for _, kw := range s.LoadKw {
		sum += kw * hours.SlotHours
	}
	return sum
}
