package inverter

import (
	"sync"
	"time"

	"github.com/angas/powerplan-go/calc"
)

// TelemetryMessage is one sample from the inverter's telemetry topic.
// Battery power is positive when discharging.
type TelemetryMessage struct {
	Ts        string  `json:"ts"`
	Soc       float64 `json:"soc"`
	SolarKw   float64 `json:"solarKw"`
	LoadKw    float64 `json:"loadKw"`
	BatteryKw float64 `json:"batteryKw"`
	GridKw    float64 `json:"gridKw"`
}

// Snapshot is a point-in-time copy of the inverter state for consumers that
// must not hold the lock.
type Snapshot struct {
	At        time.Time
	Soc       float64
	SolarKw   float64
	LoadKw    float64
	BatteryKw float64
	GridKw    float64
}

// InMemData keeps the latest telemetry sample plus short moving averages of
// solar and load, which the dispatcher uses to smooth setpoint decisions.
type InMemData struct {
	mu       sync.RWMutex
	last     TelemetryMessage
	at       time.Time
	solarAvg *MovingAverage
	loadAvg  *MovingAverage
}

func NewInMemData() *InMemData {
	return &InMemData{
		solarAvg: NewMovingAverage(12),
		loadAvg:  NewMovingAverage(12),
	}
}

func (d *InMemData) Update(msg *TelemetryMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = *msg
	d.at = time.Now()
	d.solarAvg.Add(msg.SolarKw)
	d.loadAvg.Add(msg.LoadKw)
}

// Healthy reports whether telemetry is fresh enough to act on.
func (d *InMemData) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.at.IsZero() && time.Since(d.at) < 30*time.Second
}

func (d *InMemData) Current() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		At:        d.at,
		Soc:       d.last.Soc,
		SolarKw:   d.last.SolarKw,
		LoadKw:    d.last.LoadKw,
		BatteryKw: d.last.BatteryKw,
		GridKw:    d.last.GridKw,
	}
}

// BatterySoc is the state of charge in percent.
func (d *InMemData) BatterySoc() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return calc.TwoDecimals(d.last.Soc)
}

// SolarPowerAvg is the smoothed solar production in kW.
func (d *InMemData) SolarPowerAvg() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return calc.TwoDecimals(d.solarAvg.Avg())
}

// LoadPowerAvg is the smoothed household consumption in kW.
func (d *InMemData) LoadPowerAvg() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return calc.TwoDecimals(d.loadAvg.Avg())
}

// BatteryPower in kW, positive when discharging.
func (d *InMemData) BatteryPower() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return calc.TwoDecimals(d.last.BatteryKw)
}

// GridPower in kW, positive when importing.
func (d *InMemData) GridPower() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return calc.TwoDecimals(d.last.GridKw)
}
