// Command plancmp runs both planners against a scenario file and prints a
// slot-by-slot comparison. Handy for tuning the rule based planner against
// the optimum.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/forecast"
	"github.com/angas/powerplan-go/plan"
	"github.com/angas/powerplan-go/planner"
	"github.com/lmittmann/tint"
)

type scenario struct {
	Start       time.Time          `json:"start"`
	Soc         float64            `json:"soc"`
	Battery     battery.Spec       `json:"battery"`
	GridLimits  battery.GridLimits `json:"gridLimits"`
	ImportPrice []float64          `json:"importPrice"`
	ExportPrice []float64          `json:"exportPrice"`
	SolarKw     []float64          `json:"solarKw"`
	LoadKw      []float64          `json:"loadKw"`
}

func main() {
	scenarioPath := flag.String("scenario", "", "path to scenario json file")
	timeout := flag.Duration("timeout", 10*time.Second, "solver time budget")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: plancmp -scenario <file.json>")
		os.Exit(2)
	}

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		fatal(err)
	}

	series := forecast.Series{
		Start:       sc.Start,
		ImportPrice: sc.ImportPrice,
		ExportPrice: sc.ExportPrice,
		SolarKw:     sc.SolarKw,
		LoadKw:      sc.LoadKw,
	}
	state := battery.State{Spec: sc.Battery, Soc: sc.Soc}

	cfg := planner.DefaultConfig()
	cfg.Limits = sc.GridLimits
	cfg.SolverTimeout = *timeout

	rulePlan, err := planner.NewRuleBased(cfg, logger).Plan(series, state)
	if err != nil {
		fatal(fmt.Errorf("rule based planner: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SolverTimeout)
	defer cancel()
	lpPlan, err := planner.NewMathOptimal(cfg, logger).Plan(ctx, series, state)
	if err != nil {
		if errors.Is(err, planner.ErrInfeasible) || errors.Is(err, planner.ErrSolverTimeout) {
			fmt.Printf("optimal planner gave up (%v), only the rule based plan is available:\n\n", err)
			printSummary(rulePlan)
			return
		}
		fatal(fmt.Errorf("optimal planner: %w", err))
	}

	cmp, err := plan.Compare(lpPlan, rulePlan)
	if err != nil {
		fatal(err)
	}

	fmt.Println(cmp.String())
	printSummary(lpPlan)
	printSummary(rulePlan)
}

func loadScenario(path string) (*scenario, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc scenario
	if err := json.Unmarshal(buf, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if sc.Start.IsZero() {
		sc.Start = time.Now().UTC().Truncate(30 * time.Minute)
	}
	if err := sc.Battery.Validate(); err != nil {
		return nil, fmt.Errorf("scenario battery: %w", err)
	}
	return &sc, nil
}

func printSummary(p *plan.Plan) {
	sum := p.Summary()
	fmt.Printf("%s: %d slots, cost %.2fp, clipped %.2f kWh, final soc %.1f%%\n",
		p.Engine, len(p.Slots), sum.TotalCostPence, sum.TotalClippedKWh, sum.FinalSoc)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
