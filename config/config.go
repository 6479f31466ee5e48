package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/angas/powerplan-go/battery"
	"github.com/angas/powerplan-go/logging"
	"github.com/angas/powerplan-go/planner"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigDatabase struct {
	Path string
	// How many days data should be stored in database before it gets purged
	DataRetentionDays *int `mapstructure:"data_retention_days"`
	// How many days daily backup files should be stored before they gets deleted
	BackupRetentionDays *int `mapstructure:"backup_retention_days"`
}

func (d AppConfigDatabase) GetDataRetentionDays() int {
	if d.DataRetentionDays == nil {
		return 90
	}
	return *d.DataRetentionDays
}

func (d AppConfigDatabase) GetBackupRetentionDays() int {
	if d.BackupRetentionDays == nil {
		return 90
	}
	return *d.BackupRetentionDays
}

type AppConfigInverter struct {
	Host     string
	Port     int16
	Username string
	Password string
}

type AppConfigPlanner struct {
	RunAt string `mapstructure:"run_at"` // Cron spec for the planning task
	// How many half-hour slots to plan ahead, capped by available forecast
	HorizonSlots int            `mapstructure:"horizon_slots"`
	Tuning       planner.Config `mapstructure:",squash"`
}

type AppConfigDispatcher struct {
	Interval int `mapstructure:"interval"` // How often the inverter state should be reconciled in sec
	// Threshold in watts for when to update inverter state, helps avoid frequent updates for small power changes.
	UpdateThreshold float64 `mapstructure:"update_threshold"`
}

type AppConfigMaintenance struct {
	RunAt string `mapstructure:"run_at"`
}

type AppConfigGui struct {
	// Timezone for displaying times in the GUI, default: UTC
	Timezone *string `mapstructure:"timezone"`
}

func (g AppConfigGui) GetTimezone() string {
	if g.Timezone == nil {
		return "UTC"
	}
	return *g.Timezone
}

type AppConfigLogging struct {
	// Min log level for database : "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format: "TEXT", "JSON", default: "JSON"
	DbAttrsFormat *string `mapstructure:"db_attrs_format"`
	// Maximum number of log entries in the database, default: 10000
	DbMaxEntries *int `mapstructure:"db_max_entries"`
	// Min log level for console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbAttrsFormat() logging.LogAttrFormat {
	if l.DbAttrsFormat == nil {
		return "JSON"
	}
	if strings.EqualFold(*l.DbAttrsFormat, "text") {
		return "TEXT"
	}
	return "JSON"
}

func (l AppConfigLogging) GetDbMaxEntries() int {
	if l.DbMaxEntries == nil {
		return 10000
	}
	return *l.DbMaxEntries
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

type AppConfig struct {
	Api         AppConfigApi
	Database    AppConfigDatabase
	Inverter    AppConfigInverter
	BatterySpec battery.Spec         `mapstructure:"battery_spec"`
	Planner     AppConfigPlanner     `mapstructure:"planner"`
	Dispatcher  AppConfigDispatcher  `mapstructure:"dispatcher"`
	Maintenance AppConfigMaintenance `mapstructure:"maintenance"`
	Gui         AppConfigGui         `mapstructure:"gui"`
	Logging     AppConfigLogging     `mapstructure:"logging"`
}

func Load(path string) (*AppConfig, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	var c AppConfig

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}

	if err := c.BatterySpec.Validate(); err != nil {
		return nil, fmt.Errorf("battery spec: %w", err)
	}

	if err := c.Planner.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("planner config: %w", err)
	}

	return &c, nil
}

// Watch logs config file changes. The process still needs a restart to pick
// them up; the log line tells the operator that.
func Watch(logger *slog.Logger) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed, restart to apply", slog.String("file", e.Name))
	})
	viper.WatchConfig()
}

func setDefaults() {
	def := planner.DefaultConfig()
	viper.SetDefault("planner.run_at", "50 * * * *")
	viper.SetDefault("planner.horizon_slots", 48)
	viper.SetDefault("planner.grid_limits.self_use_export_kw", def.Limits.SelfUseExportKw)
	viper.SetDefault("planner.grid_limits.grid_first_export_kw", def.Limits.GridFirstExportKw)
	viper.SetDefault("planner.grid_limits.import_kw", def.Limits.ImportKw)
	viper.SetDefault("planner.arbitrage_margin_pence", def.ArbitrageMarginPence)
	viper.SetDefault("planner.clipping_penalty_pence", def.ClippingPenaltyPence)
	viper.SetDefault("planner.min_solar_kw", def.MinSolarKw)
	viper.SetDefault("planner.clipping_risk_kwh", def.ClippingRiskKWh)
	viper.SetDefault("planner.presunrise_margin_kwh", def.PresunriseMarginKWh)
	viper.SetDefault("planner.deficit_tolerance_kwh", def.DeficitToleranceKWh)
	viper.SetDefault("planner.solver_timeout", def.SolverTimeout)
	viper.SetDefault("dispatcher.interval", 30)
	viper.SetDefault("dispatcher.update_threshold", 100)
	viper.SetDefault("maintenance.run_at", "0 3 * * *")
}
