package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
)

// Input source modes for the planning loop.
const (
	SourceCAN    = "can"
	SourceReplay = "replay"
)

const (
	statementTimeoutMinMS = 0
	statementTimeoutMaxMS = 3_600_000
)

type Config struct {
	Source    SourceConfig
	Vehicle   VehicleConfig
	Tuning    TuningConfig
	Redis     RedisConfig
	DB        DBConfig
	Alert     AlertConfig
	Reconcile ReconcileConfig
	Server    ServerConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type SourceConfig struct {
	Mode         string
	CANInterface string
	ScenarioPath string
}

type VehicleConfig struct {
	SteerRatio    float64
	Wheelbase     float64
	MinTrackSpeed float64
	StartAccel    float64
}

// Params converts the configured overrides into the planner's parameter set.
func (v VehicleConfig) Params() model.VehicleParams {
	return model.VehicleParams{
		SteerRatio:    v.SteerRatio,
		Wheelbase:     v.Wheelbase,
		MinTrackSpeed: v.MinTrackSpeed,
		StartAccel:    v.StartAccel,
	}
}

type TuningConfig struct {
	Path string
}

type RedisConfig struct {
	// An empty URL keeps plans in an in-process ring instead of a stream.
	URL    string
	Stream string
}

type DBConfig struct {
	// An empty URL disables the drive log entirely.
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	StatementTimeoutMS int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
	StaleCycles     int
}

// ReconcileConfig paces the periodic drive log sweep. The sweep only runs
// when the drive log itself is enabled.
type ReconcileConfig struct {
	// A zero interval disables the periodic sweep; sweeps triggered over
	// the admin API still work.
	Interval time.Duration
	Drives   int
}

type ServerConfig struct {
	HealthPort int
	// AdminPort 0 disables the admin API.
	AdminPort int
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	stmtTimeoutMS, err := getEnvIntStrict("DB_STATEMENT_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	sampleRatio, err := getEnvFloatStrict("TRACE_SAMPLE_RATIO", 0.01)
	if err != nil {
		return nil, err
	}
	vehicle, err := loadVehicle()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Source: SourceConfig{
			Mode:         getEnv("PLANNER_SOURCE", SourceCAN),
			CANInterface: getEnv("CAN_INTERFACE", "can0"),
			ScenarioPath: getEnv("REPLAY_SCENARIO", ""),
		},
		Vehicle: vehicle,
		Tuning: TuningConfig{
			Path: getEnv("TUNING_PATH", ""),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Stream: getEnv("REDIS_STREAM", "longplan:plans"),
		},
		DB: DBConfig{
			URL:                getEnv("DB_URL", ""),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 4),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:    time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			StatementTimeoutMS: stmtTimeoutMS,
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
			StaleCycles:     getEnvInt("ALERT_STALE_CYCLES", 40),
		},
		Reconcile: ReconcileConfig{
			Interval: time.Duration(getEnvInt("RECONCILE_INTERVAL_MIN", 60)) * time.Minute,
			Drives:   getEnvInt("RECONCILE_DRIVES", 3),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
			AdminPort:  getEnvInt("ADMIN_PORT", 0),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: sampleRatio,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadVehicle reads the per-vehicle overrides. A malformed value fails
// startup instead of silently falling back to the sedan defaults.
func loadVehicle() (VehicleConfig, error) {
	def := model.DefaultVehicleParams()
	v := VehicleConfig{}
	for _, f := range []struct {
		key      string
		dst      *float64
		fallback float64
	}{
		{"VEHICLE_STEER_RATIO", &v.SteerRatio, def.SteerRatio},
		{"VEHICLE_WHEELBASE", &v.Wheelbase, def.Wheelbase},
		{"VEHICLE_MIN_TRACK_SPEED", &v.MinTrackSpeed, def.MinTrackSpeed},
		{"VEHICLE_START_ACCEL", &v.StartAccel, def.StartAccel},
	} {
		val, err := getEnvFloatStrict(f.key, f.fallback)
		if err != nil {
			return VehicleConfig{}, err
		}
		*f.dst = val
	}
	return v, nil
}

func (c *Config) validate() error {
	switch c.Source.Mode {
	case SourceCAN:
		if c.Source.CANInterface == "" {
			return fmt.Errorf("CAN_INTERFACE is required when PLANNER_SOURCE is %q", SourceCAN)
		}
	case SourceReplay:
		if c.Source.ScenarioPath == "" {
			return fmt.Errorf("REPLAY_SCENARIO is required when PLANNER_SOURCE is %q", SourceReplay)
		}
	default:
		return fmt.Errorf("PLANNER_SOURCE must be %q or %q, got %q", SourceCAN, SourceReplay, c.Source.Mode)
	}

	if c.Vehicle.SteerRatio <= 0 {
		return fmt.Errorf("VEHICLE_STEER_RATIO must be positive, got %v", c.Vehicle.SteerRatio)
	}
	if c.Vehicle.Wheelbase <= 0 {
		return fmt.Errorf("VEHICLE_WHEELBASE must be positive, got %v", c.Vehicle.Wheelbase)
	}
	if c.Vehicle.MinTrackSpeed <= 0 {
		return fmt.Errorf("VEHICLE_MIN_TRACK_SPEED must be positive, got %v", c.Vehicle.MinTrackSpeed)
	}
	if c.Vehicle.StartAccel <= 0 {
		return fmt.Errorf("VEHICLE_START_ACCEL must be positive, got %v", c.Vehicle.StartAccel)
	}

	if c.DB.StatementTimeoutMS < statementTimeoutMinMS || c.DB.StatementTimeoutMS > statementTimeoutMaxMS {
		return fmt.Errorf("DB_STATEMENT_TIMEOUT_MS %d out of allowed range [%d, %d]",
			c.DB.StatementTimeoutMS, statementTimeoutMinMS, statementTimeoutMaxMS)
	}

	if c.Alert.Cooldown < 0 {
		return fmt.Errorf("ALERT_COOLDOWN_SEC must not be negative")
	}
	if c.Alert.StaleCycles <= 0 {
		return fmt.Errorf("ALERT_STALE_CYCLES must be positive")
	}

	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_MIN must not be negative")
	}
	if c.Reconcile.Drives <= 0 {
		return fmt.Errorf("RECONCILE_DRIVES must be positive")
	}

	if c.Server.HealthPort < 1 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 1 and 65535, got %d", c.Server.HealthPort)
	}
	if c.Server.AdminPort != 0 && (c.Server.AdminPort < 1 || c.Server.AdminPort > 65535) {
		return fmt.Errorf("ADMIN_PORT must be 0 (disabled) or between 1 and 65535, got %d", c.Server.AdminPort)
	}
	if c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.HealthPort {
		return fmt.Errorf("ADMIN_PORT and HEALTH_PORT must differ, both are %d", c.Server.AdminPort)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when TRACING_ENABLED is true")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvIntStrict(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return i, nil
}

func getEnvFloatStrict(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}
