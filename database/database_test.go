package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/plan"
)

func newTestDb(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func testPlan(start time.Time, modes ...plan.Mode) *plan.Plan {
	p := &plan.Plan{
		CreatedAt: start,
		Engine:    plan.EngineRuleBased,
		StartSoc:  50,
	}
	for i, m := range modes {
		p.Slots = append(p.Slots, plan.Slot{
			Time:          start.Add(time.Duration(i) * hours.SlotDuration),
			Mode:          m,
			GridImportKWh: float64(i),
			SocAfter:      50,
			CostPence:     float64(10 * i),
			Reason:        "test",
		})
	}
	return p
}

func TestPlanRoundTrip(t *testing.T) {
	db := newTestDb(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := testPlan(start, plan.ModeSelfUse, plan.ModeForceCharge, plan.ModeGridFirst)
	if err := db.SavePlan(ctx, p); err != nil {
		t.Fatalf("saving plan: %v", err)
	}

	row, err := db.GetPlanSlot(ctx, hours.FromTime(start.Add(hours.SlotDuration)))
	if err != nil {
		t.Fatalf("getting plan slot: %v", err)
	}
	if row.Slot.Mode != plan.ModeForceCharge {
		t.Errorf("got mode %s, wanted force_charge", row.Slot.Mode)
	}
	if row.Slot.CostPence != 10 {
		t.Errorf("got cost %f, wanted 10", row.Slot.CostPence)
	}
	if row.Engine != plan.EngineRuleBased {
		t.Errorf("got engine %q", row.Engine)
	}
	if !row.Slot.Time.Equal(start.Add(hours.SlotDuration)) {
		t.Errorf("got time %s", row.Slot.Time)
	}

	rows, err := db.GetPlanFrom(ctx, hours.FromTime(start))
	if err != nil {
		t.Fatalf("getting plan range: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, wanted 3", len(rows))
	}
	for i, r := range rows {
		if r.Slot.GridImportKWh != float64(i) {
			t.Errorf("row %d out of order: import %f", i, r.Slot.GridImportKWh)
		}
	}
}

func TestSavePlanOverwritesSlot(t *testing.T) {
	db := newTestDb(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.SavePlan(ctx, testPlan(start, plan.ModeSelfUse)); err != nil {
		t.Fatalf("saving plan: %v", err)
	}
	replanned := testPlan(start, plan.ModeForceDischarge)
	replanned.Engine = plan.EngineMathOptimal
	if err := db.SavePlan(ctx, replanned); err != nil {
		t.Fatalf("saving replanned slot: %v", err)
	}

	row, err := db.GetPlanSlot(ctx, hours.FromTime(start))
	if err != nil {
		t.Fatalf("getting plan slot: %v", err)
	}
	if row.Slot.Mode != plan.ModeForceDischarge || row.Engine != plan.EngineMathOptimal {
		t.Errorf("replan not applied: mode %s engine %q", row.Slot.Mode, row.Engine)
	}
}

func TestGetPlanSlotMissing(t *testing.T) {
	db := newTestDb(t)
	_, err := db.GetPlanSlot(context.Background(), hours.DateSlot{Date: "2026-03-01", Slot: 7})
	if err != sql.ErrNoRows {
		t.Errorf("got %v, wanted sql.ErrNoRows", err)
	}
}

func TestForecastSeriesStopsAtGap(t *testing.T) {
	db := newTestDb(t)
	ctx := context.Background()

	rows := []ForecastRow{
		{When: hours.DateSlot{Date: "2026-03-01", Slot: 0}, ImportPrice: 10, SolarKw: 1},
		{When: hours.DateSlot{Date: "2026-03-01", Slot: 1}, ImportPrice: 20, SolarKw: 2},
		// Slot 2 missing
		{When: hours.DateSlot{Date: "2026-03-01", Slot: 3}, ImportPrice: 30, SolarKw: 3},
	}
	if err := db.SaveForecast(ctx, rows); err != nil {
		t.Fatalf("saving forecast: %v", err)
	}

	series, err := db.GetForecastSeries(ctx, hours.DateSlot{Date: "2026-03-01", Slot: 0}, 4)
	if err != nil {
		t.Fatalf("getting series: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("got %d slots, wanted 2 (truncated at gap)", series.Len())
	}
	if series.ImportPrice[1] != 20 {
		t.Errorf("got price %f, wanted 20", series.ImportPrice[1])
	}
}

func TestForecastSeriesSpansMidnight(t *testing.T) {
	db := newTestDb(t)
	ctx := context.Background()

	rows := []ForecastRow{
		{When: hours.DateSlot{Date: "2026-03-01", Slot: 47}, ImportPrice: 10},
		{When: hours.DateSlot{Date: "2026-03-02", Slot: 0}, ImportPrice: 20},
	}
	if err := db.SaveForecast(ctx, rows); err != nil {
		t.Fatalf("saving forecast: %v", err)
	}

	series, err := db.GetForecastSeries(ctx, hours.DateSlot{Date: "2026-03-01", Slot: 47}, 10)
	if err != nil {
		t.Fatalf("getting series: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("got %d slots, wanted 2 across midnight", series.Len())
	}
}

func TestLogRoundTrip(t *testing.T) {
	db := newTestDb(t)
	ctx := context.Background()

	entries := []LogRow{
		{Timestamp: time.Now(), Level: 0, Message: "info entry"},
		{Timestamp: time.Now(), Level: 8, Message: "error entry"},
	}
	for _, e := range entries {
		if err := db.SaveLog(ctx, e); err != nil {
			t.Fatalf("saving log: %v", err)
		}
	}

	got, err := db.GetLogs(ctx, 8, 1, 10)
	if err != nil {
		t.Fatalf("getting logs: %v", err)
	}
	if len(got) != 1 || got[0].Message != "error entry" {
		t.Errorf("level filter failed: %+v", got)
	}
}
