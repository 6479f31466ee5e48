package www

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/angas/powerplan-go/database"
	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/inverter"
	"github.com/angas/powerplan-go/logging"
	"github.com/angas/powerplan-go/plan"
)

// NewStatusHandler reports the latest inverter telemetry and whether it is
// fresh enough for the dispatcher to act on.
func NewStatusHandler(logger *slog.Logger, db *database.Database, inMem *inverter.InMemData) http.HandlerFunc {
	type status struct {
		Healthy      bool      `json:"healthy"`
		At           time.Time `json:"at"`
		Soc          float64   `json:"soc"`
		SolarKw      float64   `json:"solarKw"`
		LoadKw       float64   `json:"loadKw"`
		BatteryKw    float64   `json:"batteryKw"`
		GridKw       float64   `json:"gridKw"`
		SolarAvgKw   float64   `json:"solarAvgKw"`
		LoadAvgKw    float64   `json:"loadAvgKw"`
		DatabaseOk   bool      `json:"databaseOk"`
		CurrentSlot  string    `json:"currentSlot"`
		CurrentMode  string    `json:"currentMode"`
		PlanCoversUs bool      `json:"planCoversUs"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ds := hours.FromNow()
		snap := inMem.Current()
		s := status{
			Healthy:     inMem.Healthy(),
			At:          snap.At,
			Soc:         snap.Soc,
			SolarKw:     snap.SolarKw,
			LoadKw:      snap.LoadKw,
			BatteryKw:   snap.BatteryKw,
			GridKw:      snap.GridKw,
			SolarAvgKw:  inMem.SolarPowerAvg(),
			LoadAvgKw:   inMem.LoadPowerAvg(),
			CurrentSlot: ds.String(),
			CurrentMode: plan.ModeSelfUse.String(),
		}

		row, err := db.GetPlanSlot(r.Context(), ds)
		s.DatabaseOk = err == nil || err == sql.ErrNoRows
		if err == nil {
			s.CurrentMode = row.Slot.Mode.String()
			s.PlanCoversUs = true
		}

		writeJSON(logger, w, s)
	}
}

type planSlotResponse struct {
	When      string    `json:"slot"`
	LocalTime string    `json:"localTime"`
	CreatedAt time.Time `json:"createdAt"`
	Engine    string    `json:"engine"`
	plan.Slot
}

// NewPlanHandler returns the stored plan from a given slot onwards. Defaults
// to everything from midnight, so a day's plan comes back in one call.
func NewPlanHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		from, err := fromParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rows, err := db.GetPlanFrom(r.Context(), from)
		if err != nil {
			logger.Error("handling plan request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := make([]planSlotResponse, len(rows))
		for i, row := range rows {
			resp[i] = planSlotResponse{
				When:      row.When.String(),
				LocalTime: row.When.LocalString(),
				CreatedAt: row.CreatedAt,
				Engine:    row.Engine,
				Slot:      row.Slot,
			}
		}

		writeJSON(logger, w, resp)
	}
}

// NewSummaryHandler aggregates the stored plan from a given slot onwards into
// totals per mode, cost and final state of charge.
func NewSummaryHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		from, err := fromParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rows, err := db.GetPlanFrom(r.Context(), from)
		if err != nil {
			logger.Error("handling summary request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		p := plan.Plan{}
		for _, row := range rows {
			p.Engine = row.Engine
			p.Slots = append(p.Slots, row.Slot)
		}

		writeJSON(logger, w, struct {
			From    string       `json:"from"`
			Slots   int          `json:"slots"`
			Engine  string       `json:"engine"`
			Summary plan.Summary `json:"summary"`
		}{
			From:    from.String(),
			Slots:   len(p.Slots),
			Engine:  p.Engine,
			Summary: p.Summary(),
		})
	}
}

// NewForecastHandler ingests forecast rows pushed by an external collaborator
// (price feed, solar and load estimators). Rows are upserted per slot, so
// partial updates are fine.
func NewForecastHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	type forecastSlot struct {
		Date        string  `json:"date"`
		Slot        uint8   `json:"slot"`
		ImportPrice float64 `json:"importPrice"`
		ExportPrice float64 `json:"exportPrice"`
		SolarKw     float64 `json:"solarKw"`
		LoadKw      float64 `json:"loadKw"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body []forecastSlot
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("invalid forecast payload: %v", err), http.StatusBadRequest)
			return
		}

		rows := make([]database.ForecastRow, len(body))
		for i, fs := range body {
			if fs.Slot >= hours.SlotsPerDay {
				http.Error(w, fmt.Sprintf("slot %d out of range", fs.Slot), http.StatusBadRequest)
				return
			}
			rows[i] = database.ForecastRow{
				When:        hours.DateSlot{Date: fs.Date, Slot: fs.Slot},
				ImportPrice: fs.ImportPrice,
				ExportPrice: fs.ExportPrice,
				SolarKw:     fs.SolarKw,
				LoadKw:      fs.LoadKw,
			}
		}

		if err := db.SaveForecast(r.Context(), rows); err != nil {
			logger.Error("handling forecast request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(logger, w, struct {
			Saved int `json:"saved"`
		}{Saved: len(rows)})
	}
}

// NewLogHandler serves the persisted application log, newest first.
func NewLogHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		page := intOrDefault(r.URL, "page", 1)
		pageSize := intOrDefault(r.URL, "pageSize", 25)

		minLevel := slog.LevelDebug
		if v := r.URL.Query().Get("minLevel"); v != "" {
			minLevel = logging.LevelFromString(&v)
		}

		entries, err := db.GetLogs(r.Context(), minLevel, page, pageSize)
		if err != nil {
			logger.Error("handling log request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(logger, w, entries)
	}
}

// fromParam parses the optional from=YYYY-MM-DD query parameter, defaulting
// to the first slot of today.
func fromParam(r *http.Request) (hours.DateSlot, error) {
	v := r.URL.Query().Get("from")
	if v == "" {
		return hours.FromMidnight(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.UTC)
	if err != nil {
		return hours.DateSlot{}, fmt.Errorf("invalid from parameter %q: %w", v, err)
	}
	return hours.FromTime(t), nil
}
