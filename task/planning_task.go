package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/config"
	"github.com/angas/powerplan-go/database"
	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/inverter"
	"github.com/angas/powerplan-go/plan"
	"github.com/angas/powerplan-go/planner"
)

// NewPlanningTask builds the cron job that plans the upcoming slots. It runs
// the optimal planner first and falls back to the rule based planner when the
// solver gives up, so a plan is always produced when a forecast exists.
func NewPlanningTask(
	logger *slog.Logger,
	db *database.Database,
	cnfg *config.AppConfig,
	inMem *inverter.InMemData,
	onPlan func(*plan.Plan),
) func() {
	return func() {
		logger.Debug("running planning task...")
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if !inMem.Healthy() {
			logger.Warn("inverter data is not healthy, skipping planning task")
			return
		}

		from := hours.FromNow().Add(1)
		series, err := db.GetForecastSeries(ctx, from, cnfg.Planner.HorizonSlots)
		if err != nil {
			logger.Error("planning task error, getting forecast", slog.Any("error", err))
			return
		}
		if series.Len() == 0 {
			logger.Warn("can't plan upcoming slots, no forecast found", slog.String("from", from.String()))
			return
		}
		if series.Len() < cnfg.Planner.HorizonSlots {
			logger.Warn(fmt.Sprintf("forecast covers %d of %d slots, planning a shorter horizon", series.Len(), cnfg.Planner.HorizonSlots))
		}

		state := battery.State{Spec: cnfg.BatterySpec, Soc: inMem.BatterySoc()}

		logger.Debug(fmt.Sprintf("planning %d slots ahead", series.Len()),
			slog.String("from", from.String()),
			slog.Float64("soc", state.Soc))

		solveCtx, solveCancel := context.WithTimeout(ctx, cnfg.Planner.Tuning.SolverTimeout)
		p, err := planner.NewMathOptimal(cnfg.Planner.Tuning, logger).Plan(solveCtx, series, state)
		solveCancel()
		if err != nil {
			if !errors.Is(err, planner.ErrInfeasible) && !errors.Is(err, planner.ErrSolverTimeout) {
				logger.Error("planning task error", slog.Any("error", err))
				return
			}
			logger.Warn("optimal planner failed, falling back to rule based planner", slog.Any("error", err))
			p, err = planner.NewRuleBased(cnfg.Planner.Tuning, logger).Plan(series, state)
			if err != nil {
				logger.Error("planning task error, rule based fallback", slog.Any("error", err))
				return
			}
		}

		if err := db.SavePlan(ctx, p); err != nil {
			logger.Error("planning task error, saving plan", slog.Any("error", err))
			return
		}

		if onPlan != nil {
			onPlan(p)
		}

		sum := p.Summary()
		logger.Info("planning task done",
			slog.String("engine", p.Engine),
			slog.Int("slots", len(p.Slots)),
			slog.Float64("costPence", sum.TotalCostPence),
			slog.Float64("finalSoc", sum.FinalSoc))
	}
}
