package task

import (
	"context"
	"log/slog"

	"github.com/angas/powerplan-go/config"
	"github.com/angas/powerplan-go/database"
	"github.com/angas/powerplan-go/inverter"
	"github.com/angas/powerplan-go/plan"
	"github.com/robfig/cron/v3"
)

type Tasks struct {
	cron            *cron.Cron
	cnfg            *config.AppConfig
	PlanningTask    func()
	MaintenanceTask func()
}

func NewTasks(
	db *database.Database,
	inMem *inverter.InMemData,
	cnfg *config.AppConfig,
	onPlan func(*plan.Plan),
) *Tasks {
	logger := slog.Default().With("module", "tasks")
	return &Tasks{
		cron:            cron.New(),
		cnfg:            cnfg,
		PlanningTask:    NewPlanningTask(logger.With(slog.String("task", "planning")), db, cnfg, inMem, onPlan),
		MaintenanceTask: NewMaintenanceTask(logger.With(slog.String("task", "maintenance")), db, cnfg),
	}
}

func (t *Tasks) Run() {
	_, err := t.cron.AddFunc(t.cnfg.Planner.RunAt, t.PlanningTask)
	if err != nil {
		panic(err)
	}
	_, err = t.cron.AddFunc(t.cnfg.Maintenance.RunAt, t.MaintenanceTask)
	if err != nil {
		panic(err)
	}
	t.cron.Start()
}

func (t *Tasks) Stop() context.Context {
	return t.cron.Stop()
}
