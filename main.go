package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/angas/powerplan-go/config"
	"github.com/angas/powerplan-go/database"
	"github.com/angas/powerplan-go/hours"
	"github.com/angas/powerplan-go/inverter"
	"github.com/angas/powerplan-go/logging"
	"github.com/angas/powerplan-go/task"
	"github.com/angas/powerplan-go/www"
	"github.com/lmittmann/tint"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := hours.SetGuiTimezone(cnfg.Gui.GetTimezone()); err != nil {
		panic(fmt.Sprintf("failed to set GUI timezone: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	})
	slog.New(consoleHandler).Debug("powerplan is starting...", slog.String("version", Version))

	db, err := database.New(ctx, cnfg.Database.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	logger := slog.New(logging.NewFanout(
		consoleHandler,
		logging.NewSQLiteHandler(db, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat())))
	slog.SetDefault(logger)

	// Now we can use the logger to log database operations into the database itself
	db.SetLogger(logger.With("module", "database"))

	config.Watch(logger.With("module", "config"))

	inv := inverter.New(
		cnfg.Inverter.Host,
		cnfg.Inverter.Port,
		cnfg.Inverter.Username,
		cnfg.Inverter.Password)

	inMem := inverter.NewInMemData()
	inv.OnTelemetry = inMem.Update

	if isDevMode() {
		logger.Info("dev mode, skipping inverter connection")
	} else {
		if err := inv.Connect(); err != nil {
			panic(fmt.Sprintf("inverter connection error: %v", err))
		}
		defer inv.Disconnect()
	}

	server := www.StartServer(db, inMem, cnfg.Api)

	tasks := task.NewTasks(db, inMem, cnfg, server.BroadcastPlan)
	if isDevMode() {
		logger.Info("dev mode, skipping task scheduling")
	} else {
		tasks.Run()
		defer tasks.Stop()
	}

	dispatcher := task.NewDispatcher(
		logger.With("module", "dispatcher"),
		db,
		cnfg.BatterySpec,
		inMem,
		inv,
		task.DispatcherStrategy{
			Interval:        time.Duration(cnfg.Dispatcher.Interval) * time.Second,
			UpdateThreshold: cnfg.Dispatcher.UpdateThreshold,
		})
	if isDevMode() {
		logger.Info("dev mode, skipping dispatcher")
	} else {
		dispatcher.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	server.Run(ctx)
}

func isDevMode() bool {
	return strings.EqualFold(os.Getenv("APP_ENV"), "development")
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}

	time.Sleep(2 * time.Second)
	os.Exit(1)
}
