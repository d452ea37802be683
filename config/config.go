package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Events     EventsConfig     `yaml:"events"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	AllowedOrigins  string  `yaml:"allowed_origins"` // Comma-separated, or "*"
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RankingConfig holds the weights and category thresholds of the priority model.
type RankingConfig struct {
	ProbabilityWeight float64            `yaml:"probability_weight"`
	ComorbidityWeight float64            `yaml:"comorbidity_weight"`
	EquipmentWeight   float64            `yaml:"equipment_weight"`
	WaitWeightPerHour float64            `yaml:"wait_weight_per_hour"`
	AcuityPoints      map[string]float64 `yaml:"acuity_points"`
	Thresholds        ThresholdConfig    `yaml:"thresholds"`
}

// ThresholdConfig maps priority scores onto risk levels.
type ThresholdConfig struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Moderate float64 `yaml:"moderate"`
}

// ForecastConfig holds the capacity forecaster configuration.
type ForecastConfig struct {
	HorizonDays       int     `yaml:"horizon_days"`
	MaxHorizonDays    int     `yaml:"max_horizon_days"`
	DefaultStayDays   float64 `yaml:"default_stay_days"`
	HistoryWindowDays int     `yaml:"history_window_days"`
}

// AlertsConfig holds the recommendation engine thresholds.
type AlertsConfig struct {
	HighUtilization       float64 `yaml:"high_utilization"`
	CriticalUtilization   float64 `yaml:"critical_utilization"`
	ShortageLookaheadDays int     `yaml:"shortage_lookahead_days"`
	LongStayDays          int     `yaml:"long_stay_days"`
	ElectiveWindowDays    int     `yaml:"elective_window_days"`
	PostponeMaxIcuProb    float64 `yaml:"postpone_max_icu_probability"`
	DedupeMinutes         int     `yaml:"dedupe_minutes"`
}

// MonitorConfig holds the periodic evaluation loop configuration.
type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// EventsConfig selects the backend that allocation and alert events are published to.
type EventsConfig struct {
	Backend      string   `yaml:"backend"` // none, redis or kafka
	RedisURL     string   `yaml:"redis_url"`
	Channel      string   `yaml:"channel"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// AuthConfig holds the shared secret used to verify admin bearer tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig holds the logger configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and an in-memory sqlite database.
func Default() *Config {
	cfg := &Config{Database: DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}
	if cfg.Server.AllowedOrigins == "" {
		cfg.Server.AllowedOrigins = "*"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	r := &cfg.Ranking
	if r.ProbabilityWeight == 0 {
		r.ProbabilityWeight = 0.6
	}
	if r.ComorbidityWeight == 0 {
		r.ComorbidityWeight = 4
	}
	if r.EquipmentWeight == 0 {
		r.EquipmentWeight = 5
	}
	if r.WaitWeightPerHour == 0 {
		r.WaitWeightPerHour = 0.5
	}
	if len(r.AcuityPoints) == 0 {
		r.AcuityPoints = map[string]float64{"elective": 0, "urgent": 10, "emergency": 20}
	}
	if r.Thresholds == (ThresholdConfig{}) {
		r.Thresholds = ThresholdConfig{Critical: 70, High: 40, Moderate: 20}
	}

	if cfg.Forecast.HorizonDays <= 0 {
		cfg.Forecast.HorizonDays = 7
	}
	if cfg.Forecast.MaxHorizonDays <= 0 {
		cfg.Forecast.MaxHorizonDays = 30
	}
	if cfg.Forecast.DefaultStayDays <= 0 {
		cfg.Forecast.DefaultStayDays = 3
	}
	if cfg.Forecast.HistoryWindowDays <= 0 {
		cfg.Forecast.HistoryWindowDays = 90
	}

	a := &cfg.Alerts
	if a.HighUtilization <= 0 {
		a.HighUtilization = 80
	}
	if a.CriticalUtilization <= 0 {
		a.CriticalUtilization = 90
	}
	if a.ShortageLookaheadDays <= 0 {
		a.ShortageLookaheadDays = 3
	}
	if a.LongStayDays <= 0 {
		a.LongStayDays = 3
	}
	if a.ElectiveWindowDays <= 0 {
		a.ElectiveWindowDays = 7
	}
	if a.PostponeMaxIcuProb <= 0 {
		a.PostponeMaxIcuProb = 30
	}
	if a.DedupeMinutes <= 0 {
		a.DedupeMinutes = 15
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 30
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Events.Backend == "" {
		cfg.Events.Backend = "none"
	}
	if cfg.Events.Channel == "" {
		cfg.Events.Channel = "icu:events"
	}
	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = "icu-events"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects configurations the engine cannot run with.
func (cfg *Config) Validate() error {
	t := cfg.Ranking.Thresholds
	if !(t.Critical > t.High && t.High > t.Moderate) {
		return fmt.Errorf("ranking.thresholds must be strictly decreasing (critical > high > moderate), got %v/%v/%v", t.Critical, t.High, t.Moderate)
	}
	if cfg.Ranking.WaitWeightPerHour <= 0 {
		return fmt.Errorf("ranking.wait_weight_per_hour must be positive")
	}
	if cfg.Alerts.CriticalUtilization < cfg.Alerts.HighUtilization {
		return fmt.Errorf("alerts.critical_utilization must not be below alerts.high_utilization")
	}
	if cfg.Forecast.HorizonDays > cfg.Forecast.MaxHorizonDays {
		return fmt.Errorf("forecast.horizon_days exceeds forecast.max_horizon_days")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", cfg.Database.Driver)
	}
	switch cfg.Events.Backend {
	case "none", "redis", "kafka":
	default:
		return fmt.Errorf("events.backend must be none, redis or kafka, got %q", cfg.Events.Backend)
	}
	return nil
}
