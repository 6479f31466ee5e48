package database

import (
	"context"
	"fmt"

	"github.com/angas/powerplan-go/forecast"
	"github.com/angas/powerplan-go/hours"
)

// ForecastRow is one half-hour of forecast data as an external collaborator
// delivered it.
type ForecastRow struct {
	When        hours.DateSlot
	ImportPrice float64
	ExportPrice float64
	SolarKw     float64
	LoadKw      float64
}

func (d *Database) SaveForecast(ctx context.Context, rows []ForecastRow) error {
	if len(rows) == 0 {
		return nil
	}
	d.logger.Debug("saving forecast", "slots", len(rows))

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start forecast transaction: %w", err)
	}

	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO forecast (date, slot, import_price, export_price, solar_kw, load_kw)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, slot) DO UPDATE SET
				import_price = excluded.import_price,
				export_price = excluded.export_price,
				solar_kw = excluded.solar_kw,
				load_kw = excluded.load_kw;`,
			r.When.Date, r.When.Slot, r.ImportPrice, r.ExportPrice, r.SolarKw, r.LoadKw)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("saving forecast slot %s: %w", r.When, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit forecast: %w", err)
	}
	return nil
}

// GetForecastSeries assembles a planning input starting at from, up to
// maxSlots long. It stops at the first gap: the planners require contiguous
// half-hour coverage, so a hole truncates the horizon instead of producing a
// misaligned series.
func (d *Database) GetForecastSeries(ctx context.Context, from hours.DateSlot, maxSlots int) (forecast.Series, error) {
	rows, err := d.read.QueryContext(ctx, `
		SELECT date, slot, import_price, export_price, solar_kw, load_kw
		FROM forecast
		WHERE (date > ?) OR (date = ? AND slot >= ?)
		ORDER BY date, slot ASC
		LIMIT ?`,
		from.Date, from.Date, from.Slot, maxSlots)
	if err != nil {
		return forecast.Series{}, fmt.Errorf("fetching forecast from %s: %w", from, err)
	}
	defer rows.Close()

	series := forecast.Series{Start: from.Time()}
	expected := from
	for rows.Next() {
		var r ForecastRow
		if err := rows.Scan(&r.When.Date, &r.When.Slot, &r.ImportPrice, &r.ExportPrice, &r.SolarKw, &r.LoadKw); err != nil {
			return forecast.Series{}, fmt.Errorf("scanning forecast row: %w", err)
		}
		if r.When != expected {
			break // gap in coverage, truncate here
		}
		series.ImportPrice = append(series.ImportPrice, r.ImportPrice)
		series.ExportPrice = append(series.ExportPrice, r.ExportPrice)
		series.SolarKw = append(series.SolarKw, r.SolarKw)
		series.LoadKw = append(series.LoadKw, r.LoadKw)
		expected = expected.Add(1)
	}
	if err := rows.Err(); err != nil {
		return forecast.Series{}, fmt.Errorf("reading forecast rows: %w", err)
	}

	return series, nil
}

func (d *Database) PurgeForecast(ctx context.Context, retentionDays int) error {
	return d.purgeTable(ctx, "forecast", retentionDays)
}
