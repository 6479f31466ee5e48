// Package battery models the battery state transition both planners share.
// All energy conversions put the efficiency loss between the AC bus and the
// store: charging a kWh from the bus adds ChargeEfficiency kWh to the store,
// delivering a kWh to the bus drains 1/DischargeEfficiency kWh from it.
package battery

import "fmt"

// Spec describes the fixed capabilities of the battery system.
type Spec struct {
	CapacityKWh         float64 `mapstructure:"capacity_kwh" json:"capacityKWh"`                 // Usable capacity in kWh
	MinSoc              float64 `mapstructure:"min_soc" json:"minSoc"`                           // Reserve floor in percentage
	MaxChargeKw         float64 `mapstructure:"max_charge_kw" json:"maxChargeKw"`                // Max charge power at the AC side in kW
	MaxDischargeKw      float64 `mapstructure:"max_discharge_kw" json:"maxDischargeKw"`          // Max delivered discharge power in kW
	ChargeEfficiency    float64 `mapstructure:"charge_efficiency" json:"chargeEfficiency"`       // AC to store, 0..1
	DischargeEfficiency float64 `mapstructure:"discharge_efficiency" json:"dischargeEfficiency"` // Store to AC, 0..1
}

// Validate rejects specs that would break the energy conversions: a zero
// capacity or a zero efficiency turns SOC math into division by zero.
func (s Spec) Validate() error {
	if s.CapacityKWh <= 0 {
		return fmt.Errorf("capacity_kwh must be positive, got %g", s.CapacityKWh)
	}
	if s.MinSoc < 0 || s.MinSoc >= 100 {
		return fmt.Errorf("min_soc must be in [0, 100), got %g", s.MinSoc)
	}
	if s.MaxChargeKw < 0 {
		return fmt.Errorf("max_charge_kw must not be negative, got %g", s.MaxChargeKw)
	}
	if s.MaxDischargeKw < 0 {
		return fmt.Errorf("max_discharge_kw must not be negative, got %g", s.MaxDischargeKw)
	}
	if s.ChargeEfficiency <= 0 || s.ChargeEfficiency > 1 {
		return fmt.Errorf("charge_efficiency must be in (0, 1], got %g", s.ChargeEfficiency)
	}
	if s.DischargeEfficiency <= 0 || s.DischargeEfficiency > 1 {
		return fmt.Errorf("discharge_efficiency must be in (0, 1], got %g", s.DischargeEfficiency)
	}
	return nil
}

// RoundTripEfficiency is the fraction of a bought kWh that comes back out.
func (s Spec) RoundTripEfficiency() float64 {
	return s.ChargeEfficiency * s.DischargeEfficiency
}

// SocToKWh converts a SOC percentage span to energy.
func (s Spec) SocToKWh(soc float64) float64 {
	return soc / 100.0 * s.CapacityKWh
}

// KWhToSoc converts energy to a SOC percentage span.
func (s Spec) KWhToSoc(kwh float64) float64 {
	return kwh / s.CapacityKWh * 100.0
}
