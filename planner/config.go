// Package planner contains the two planning engines: a prioritized
// rule-based planner and an LP-based optimal planner. Both consume the same
// forecast and battery physics and emit the same plan structure, so the
// planning task can swap one for the other.
package planner

import (
	"fmt"
	"time"

	"github.com/angas/powerplan-go/battery"
)

// Config collects the tuning knobs shared by the two planners. All energy
// thresholds are in kWh, prices in pence per kWh.
type Config struct {
	Limits battery.GridLimits `mapstructure:"grid_limits"`

	// ArbitrageMarginPence is the minimum round-trip profit per kWh before
	// the rule planner trades on a price spread.
	ArbitrageMarginPence float64 `mapstructure:"arbitrage_margin_pence"`

	// ClippingPenaltyPence prices away clipped solar in the LP objective.
	ClippingPenaltyPence float64 `mapstructure:"clipping_penalty_pence"`

	// MinSolarKw is the level below which a slot counts as having no
	// meaningful production, used to find sunrise and sunset in a forecast.
	MinSolarKw float64 `mapstructure:"min_solar_kw"`

	// ClippingRiskKWh is the projected clipped energy above which the
	// grid-first window engages.
	ClippingRiskKWh float64 `mapstructure:"clipping_risk_kwh"`

	// PresunriseMarginKWh is the surplus beyond headroom+load required
	// before the planner empties the battery ahead of sunrise.
	PresunriseMarginKWh float64 `mapstructure:"presunrise_margin_kwh"`

	// DeficitToleranceKWh is how close to the reserve floor a simulated
	// slot may come before deficit prevention forces a charge.
	DeficitToleranceKWh float64 `mapstructure:"deficit_tolerance_kwh"`

	SolverTimeout time.Duration `mapstructure:"solver_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Limits: battery.GridLimits{
			SelfUseExportKw:   5.0,
			GridFirstExportKw: 9.0,
			ImportKw:          25.0,
		},
		ArbitrageMarginPence: 2.0,
		ClippingPenaltyPence: 50.0,
		MinSolarKw:           0.1,
		ClippingRiskKWh:      0.5,
		PresunriseMarginKWh:  0.5,
		DeficitToleranceKWh:  0.25,
		SolverTimeout:        10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Limits.SelfUseExportKw < 0 || c.Limits.GridFirstExportKw < c.Limits.SelfUseExportKw {
		return fmt.Errorf("grid-first export limit %.1f kW must be at least the self-use limit %.1f kW",
			c.Limits.GridFirstExportKw, c.Limits.SelfUseExportKw)
	}
	if c.Limits.ImportKw <= 0 {
		return fmt.Errorf("import limit must be positive, got %.1f kW", c.Limits.ImportKw)
	}
	if c.ClippingPenaltyPence < 0 {
		return fmt.Errorf("clipping penalty must not be negative, got %.1f", c.ClippingPenaltyPence)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("solver timeout must be positive, got %s", c.SolverTimeout)
	}
	return nil
}
