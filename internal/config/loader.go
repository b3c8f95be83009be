package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/metacat/internal/db"
)

// Config collects everything the server needs at startup.
type Config struct {
	DB                db.Config
	ListenAddr        string
	MigrationsPath    string
	SessionWindow     time.Duration
	RetryBudget       int
	ImportParallelism int
}

// DefaultConfig returns the settings used when no config file is present.
func DefaultConfig() Config {
	return Config{
		DB:                db.DefaultConfig(),
		ListenAddr:        ":8080",
		MigrationsPath:    "./migrations",
		SessionWindow:     10 * time.Minute,
		RetryBudget:       3,
		ImportParallelism: 4,
	}
}

func Load(configPath string) (Config, error) {
	// Start with default
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()          // allow environment overrides
	v.SetEnvPrefix("METACAT") // map env vars like METACAT_DATABASE.HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("server.migrations")
	v.BindEnv("merge.session_window")
	v.BindEnv("merge.retry_budget")
	v.BindEnv("bulk.parallelism")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.ListenAddr = v.GetString("server.addr")
	}
	if v.IsSet("server.migrations") {
		cfg.MigrationsPath = v.GetString("server.migrations")
	}
	if v.IsSet("merge.session_window") {
		cfg.SessionWindow = v.GetDuration("merge.session_window")
	}
	if v.IsSet("merge.retry_budget") {
		cfg.RetryBudget = v.GetInt("merge.retry_budget")
	}
	if v.IsSet("bulk.parallelism") {
		cfg.ImportParallelism = v.GetInt("bulk.parallelism")
	}

	return cfg, nil
}
