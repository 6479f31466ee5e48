package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/plan"
)

// PlanSlotRow is one persisted plan decision, keyed by its half-hour slot.
// Every planning cycle overwrites the rows it covers, so the table always
// holds the latest decision per slot.
type PlanSlotRow struct {
	When      hours.DateSlot
	CreatedAt time.Time
	Engine    string
	Slot      plan.Slot
}

func (d *Database) SavePlan(ctx context.Context, p *plan.Plan) error {
	d.logger.Debug("saving plan",
		"engine", p.Engine,
		"slots", len(p.Slots))

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start plan transaction: %w", err)
	}

	createdAt := p.CreatedAt.UTC().Format(time.RFC3339)
	for _, slot := range p.Slots {
		ds := hours.FromTime(slot.Time)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plan (date, slot, created_at, engine, mode, grid_import_kwh,
				grid_export_kwh, battery_flow_kwh, soc_after, cost_pence, clipped_kwh, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, slot) DO UPDATE SET
				created_at = excluded.created_at,
				engine = excluded.engine,
				mode = excluded.mode,
				grid_import_kwh = excluded.grid_import_kwh,
				grid_export_kwh = excluded.grid_export_kwh,
				battery_flow_kwh = excluded.battery_flow_kwh,
				soc_after = excluded.soc_after,
				cost_pence = excluded.cost_pence,
				clipped_kwh = excluded.clipped_kwh,
				reason = excluded.reason;`,
			ds.Date, ds.Slot, createdAt, p.Engine, slot.Mode.String(),
			slot.GridImportKWh, slot.GridExportKWh, slot.BatteryFlowKWh,
			slot.SocAfter, slot.CostPence, slot.ClippedKWh, slot.Reason)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("saving plan slot %s: %w", ds, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan: %w", err)
	}
	return nil
}

func (d *Database) GetPlanSlot(ctx context.Context, ds hours.DateSlot) (PlanSlotRow, error) {
	row := d.read.QueryRowContext(ctx, `
		SELECT date, slot, created_at, engine, mode, grid_import_kwh,
			grid_export_kwh, battery_flow_kwh, soc_after, cost_pence, clipped_kwh, reason
		FROM plan
		WHERE date = ? AND slot = ?`,
		ds.Date, ds.Slot)
	return scanPlanRow(row.Scan)
}

func (d *Database) GetPlanFrom(ctx context.Context, ds hours.DateSlot) ([]PlanSlotRow, error) {
	rows, err := d.read.QueryContext(ctx, `
		SELECT date, slot, created_at, engine, mode, grid_import_kwh,
			grid_export_kwh, battery_flow_kwh, soc_after, cost_pence, clipped_kwh, reason
		FROM plan
		WHERE (date > ?) OR (date = ? AND slot >= ?)
		ORDER BY date, slot ASC`,
		ds.Date, ds.Date, ds.Slot)
	if err != nil {
		return nil, fmt.Errorf("fetching plan from %s: %w", ds, err)
	}
	defer rows.Close()

	var res []PlanSlotRow
	for rows.Next() {
		row, err := scanPlanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading plan rows: %w", err)
	}

	return res, nil
}

func (d *Database) PurgePlan(ctx context.Context, retentionDays int) error {
	return d.purgeTable(ctx, "plan", retentionDays)
}

func scanPlanRow(scan func(...any) error) (PlanSlotRow, error) {
	var row PlanSlotRow
	var createdAt, mode string
	err := scan(
		&row.When.Date, &row.When.Slot, &createdAt, &row.Engine, &mode,
		&row.Slot.GridImportKWh, &row.Slot.GridExportKWh, &row.Slot.BatteryFlowKWh,
		&row.Slot.SocAfter, &row.Slot.CostPence, &row.Slot.ClippedKWh, &row.Slot.Reason)
	if err == sql.ErrNoRows {
		return PlanSlotRow{}, sql.ErrNoRows
	}
	if err != nil {
		return PlanSlotRow{}, fmt.Errorf("scanning plan row: %w", err)
	}

	row.Slot.Time = row.When.Time()
	if row.Slot.Mode, err = plan.ParseMode(mode); err != nil {
		return PlanSlotRow{}, err
	}
	if row.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return PlanSlotRow{}, fmt.Errorf("parsing plan created_at: %w", err)
	}
	return row, nil
}
