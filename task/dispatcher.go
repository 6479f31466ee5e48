package task

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/database"
	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/inverter"
	"github.com/angas/powerplan-go/plan"
)

// Controller is the slice of the inverter client the dispatcher drives.
type Controller interface {
	SetBatteryAuto() error
	SetBatteryLoad(powerKw float64) error
	SetExportPriority(on bool) error
}

type DispatcherStrategy struct {
	// Time between each reconciliation of the inverter against the plan.
	Interval time.Duration

	// Minimum difference in watts between the current setpoint and the new
	// one before the inverter is updated.
	UpdateThreshold float64
}

// instruction is the resolved inverter setpoint for one reconciliation pass.
type instruction struct {
	Mode           plan.Mode
	PowerKw        float64 // positive discharge, negative charge, 0 for auto
	ExportPriority bool
}

// Dispatcher reconciles the inverter against the stored plan slot for the
// current half hour.
type Dispatcher struct {
	logger        *slog.Logger
	db            *database.Database
	spec          battery.Spec
	inMem         *inverter.InMemData
	ctrl          Controller
	strategy      DispatcherStrategy
	usingFallback bool
	applied       bool
	last          instruction
}

func NewDispatcher(
	logger *slog.Logger,
	db *database.Database,
	spec battery.Spec,
	inMem *inverter.InMemData,
	ctrl Controller,
	strategy DispatcherStrategy) *Dispatcher {

	return &Dispatcher{
		logger:   logger,
		db:       db,
		spec:     spec,
		inMem:    inMem,
		ctrl:     ctrl,
		strategy: strategy,
		// Keeping fallback state to avoid spamming logs
		usingFallback: false,
	}
}

func (dp *Dispatcher) Run(ctx context.Context) {
	dp.logger.Debug("starting dispatcher", slog.Any("interval", dp.strategy.Interval))

	go func() {
		dp.logger.Debug("waiting for system to stabilize")
		time.Sleep(time.Second * 60)
		ticker := time.NewTicker(dp.strategy.Interval)
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				dp.reconcile(ctx)
			}
		}
	}()
}

func (dp *Dispatcher) reconcile(ctx context.Context) {
	if !dp.inMem.Healthy() {
		dp.logger.Warn("inverter data is not healthy, skipping dispatch")
		return
	}

	ds := hours.FromNow()
	slot, ok := dp.currentSlot(ctx, ds)

	soc := dp.inMem.BatterySoc()
	want := dp.resolve(slot, soc)

	if dp.applied && want.Mode == dp.last.Mode && want.ExportPriority == dp.last.ExportPriority {
		diffWatts := math.Abs(want.PowerKw-dp.last.PowerKw) * 1e3
		if diffWatts < dp.strategy.UpdateThreshold {
			return
		}
	}

	dp.logger.Debug("new inverter instruction",
		slog.String("slot", ds.String()),
		slog.Bool("planned", ok),
		slog.Float64("soc", soc),
		slog.String("mode", want.Mode.String()),
		slog.Float64("powerKw", want.PowerKw),
		slog.Bool("exportPriority", want.ExportPriority))

	if err := dp.apply(want); err != nil {
		dp.logger.Error("failed to apply inverter instruction", slog.Any("error", err))
		return
	}

	dp.last = want
	dp.applied = true
}

// currentSlot loads the plan slot for ds, falling back to a self-use slot
// when no plan covers the current half hour.
func (dp *Dispatcher) currentSlot(ctx context.Context, ds hours.DateSlot) (plan.Slot, bool) {
	row, err := dp.db.GetPlanSlot(ctx, ds)
	if err != nil {
		if !dp.usingFallback {
			dp.usingFallback = true
			dp.logger.Warn("no plan for the current slot, falling back to self-use",
				slog.String("slot", ds.String()),
				slog.Any("error", err))
		}
		return plan.Slot{Mode: plan.ModeSelfUse}, false
	}
	if dp.usingFallback {
		dp.usingFallback = false
		dp.logger.Info("recovered from fallback, plan covers the current slot",
			slog.String("slot", ds.String()),
			slog.String("mode", row.Slot.Mode.String()))
	}
	return row.Slot, true
}

// resolve turns a plan slot into an inverter setpoint. Planned battery flow is
// store-side kWh per slot, so it is converted back to AC power here.
func (dp *Dispatcher) resolve(slot plan.Slot, soc float64) instruction {
	switch slot.Mode {
	case plan.ModeGridFirst:
		return instruction{Mode: plan.ModeGridFirst, ExportPriority: true}

	case plan.ModeForceCharge:
		if soc >= 100 {
			return instruction{Mode: plan.ModeSelfUse}
		}
		acKw := slot.BatteryFlowKWh / dp.spec.ChargeEfficiency / hours.SlotHours
		acKw = math.Min(acKw, dp.spec.MaxChargeKw)
		return instruction{Mode: plan.ModeForceCharge, PowerKw: -acKw}

	case plan.ModeForceDischarge:
		if soc <= dp.spec.MinSoc {
			return instruction{Mode: plan.ModeSelfUse}
		}
		acKw := -slot.BatteryFlowKWh * dp.spec.DischargeEfficiency / hours.SlotHours
		acKw = math.Min(acKw, dp.spec.MaxDischargeKw)
		return instruction{Mode: plan.ModeForceDischarge, PowerKw: acKw}

	default:
		return instruction{Mode: plan.ModeSelfUse}
	}
}

func (dp *Dispatcher) apply(in instruction) error {
	if in.ExportPriority != dp.last.ExportPriority || !dp.applied {
		if err := dp.ctrl.SetExportPriority(in.ExportPriority); err != nil {
			return err
		}
	}
	if in.Mode == plan.ModeForceCharge || in.Mode == plan.ModeForceDischarge {
		return dp.ctrl.SetBatteryLoad(in.PowerKw)
	}
	return dp.ctrl.SetBatteryAuto()
}
