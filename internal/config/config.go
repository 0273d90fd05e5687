// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Scoring() ScoringConfig
	Locking() LockingConfig
	Server() ServerConfig
	Findings() FindingsConfig

	SetDatabaseURL(url string)
	SetServerListenAddr(addr string)
	SetFindingsPersist(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	ScoringCfg  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	LockingCfg  LockingConfig  `mapstructure:"locking" yaml:"locking"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	FindingsCfg FindingsConfig `mapstructure:"findings" yaml:"findings"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Scoring() ScoringConfig   { return c.ScoringCfg }
func (c *Config) Locking() LockingConfig   { return c.LockingCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Findings() FindingsConfig { return c.FindingsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetDatabaseURL(url string)       { c.DatabaseCfg.URL = url }
func (c *Config) SetServerListenAddr(addr string) { c.ServerCfg.ListenAddr = addr }
func (c *Config) SetFindingsPersist(b bool)       { c.FindingsCfg.Persist = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	MaxConns       int32  `mapstructure:"max_conns" yaml:"max_conns" validate:"gte=1"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start" yaml:"migrate_on_start"`
}

// ScoringConfig gathers every tunable constant of the scoring and
// aggregation engine. It is built once at start and passed by value.
type ScoringConfig struct {
	Logs           LogsScoringConfig     `mapstructure:"logs" yaml:"logs"`
	Network        NetworkScoringConfig  `mapstructure:"network" yaml:"network"`
	Device         DeviceScoringConfig   `mapstructure:"device" yaml:"device"`
	Location       LocationScoringConfig `mapstructure:"location" yaml:"location"`
	Authentication AuthScoringConfig     `mapstructure:"authentication" yaml:"authentication"`
	ThreatIntel    ThreatIntelConfig     `mapstructure:"threat_intel" yaml:"threat_intel"`
	Aggregation    AggregationConfig     `mapstructure:"aggregation" yaml:"aggregation"`
}

// LogsScoringConfig tunes the logs scorer.
type LogsScoringConfig struct {
	Baseline             float64 `mapstructure:"baseline" yaml:"baseline" validate:"gte=0,lte=1"`
	Cap                  float64 `mapstructure:"cap" yaml:"cap" validate:"gte=0,lte=1"`
	FailureRateWeight    float64 `mapstructure:"failure_rate_weight" yaml:"failure_rate_weight" validate:"gte=0,lte=1"`
	ErrorCodeWeight      float64 `mapstructure:"error_code_weight" yaml:"error_code_weight" validate:"gte=0,lte=1"`
	ErrorCodeCap         float64 `mapstructure:"error_code_cap" yaml:"error_code_cap" validate:"gte=0,lte=1"`
	HighFailureRate      float64 `mapstructure:"high_failure_rate" yaml:"high_failure_rate" validate:"gte=0,lte=1"`
	ErrorDiversityMin    int     `mapstructure:"error_diversity_min" yaml:"error_diversity_min" validate:"gte=1"`
	LowVolumeThreshold   int     `mapstructure:"low_volume_threshold" yaml:"low_volume_threshold" validate:"gte=1"`
	SingleTransactionCap float64 `mapstructure:"single_transaction_cap" yaml:"single_transaction_cap" validate:"gte=0,lte=1"`
}

// NetworkScoringConfig tunes the network scorer.
type NetworkScoringConfig struct {
	Baseline             float64 `mapstructure:"baseline" yaml:"baseline" validate:"gte=0,lte=1"`
	Cap                  float64 `mapstructure:"cap" yaml:"cap" validate:"gte=0,lte=1"`
	ThreatIntelHitWeight float64 `mapstructure:"threat_intel_hit_weight" yaml:"threat_intel_hit_weight" validate:"gte=0,lte=1"`
	ThreatIntelHitCap    float64 `mapstructure:"threat_intel_hit_cap" yaml:"threat_intel_hit_cap" validate:"gte=0,lte=1"`
	ProxyVPNWeight       float64 `mapstructure:"proxy_vpn_weight" yaml:"proxy_vpn_weight" validate:"gte=0,lte=1"`
	TorWeight            float64 `mapstructure:"tor_weight" yaml:"tor_weight" validate:"gte=0,lte=1"`
	ASNRiskWeight        float64 `mapstructure:"asn_risk_weight" yaml:"asn_risk_weight" validate:"gte=0,lte=1"`
	GeoAnomalyWeight     float64 `mapstructure:"geo_anomaly_weight" yaml:"geo_anomaly_weight" validate:"gte=0,lte=1"`
}

// DeviceScoringConfig tunes the device scorer.
type DeviceScoringConfig struct {
	Baseline                  float64 `mapstructure:"baseline" yaml:"baseline" validate:"gte=0,lte=1"`
	Cap                       float64 `mapstructure:"cap" yaml:"cap" validate:"gte=0,lte=1"`
	NewDeviceWeight           float64 `mapstructure:"new_device_weight" yaml:"new_device_weight" validate:"gte=0,lte=1"`
	EmulatorWeight            float64 `mapstructure:"emulator_weight" yaml:"emulator_weight" validate:"gte=0,lte=1"`
	FingerprintMismatchWeight float64 `mapstructure:"fingerprint_mismatch_weight" yaml:"fingerprint_mismatch_weight" validate:"gte=0,lte=1"`
	RootedWeight              float64 `mapstructure:"rooted_weight" yaml:"rooted_weight" validate:"gte=0,lte=1"`
	SharedAccountWeight       float64 `mapstructure:"shared_account_weight" yaml:"shared_account_weight" validate:"gte=0,lte=1"`
	SharedAccountCap          float64 `mapstructure:"shared_account_cap" yaml:"shared_account_cap" validate:"gte=0,lte=1"`
}

// LocationScoringConfig tunes the location scorer.
type LocationScoringConfig struct {
	Baseline               float64 `mapstructure:"baseline" yaml:"baseline" validate:"gte=0,lte=1"`
	Cap                    float64 `mapstructure:"cap" yaml:"cap" validate:"gte=0,lte=1"`
	ImpossibleTravelWeight float64 `mapstructure:"impossible_travel_weight" yaml:"impossible_travel_weight" validate:"gte=0,lte=1"`
	HighRiskCountryWeight  float64 `mapstructure:"high_risk_country_weight" yaml:"high_risk_country_weight" validate:"gte=0,lte=1"`
	CountryMismatchWeight  float64 `mapstructure:"country_mismatch_weight" yaml:"country_mismatch_weight" validate:"gte=0,lte=1"`
	DistinctCountryWeight  float64 `mapstructure:"distinct_country_weight" yaml:"distinct_country_weight" validate:"gte=0,lte=1"`
	DistinctCountryCap     float64 `mapstructure:"distinct_country_cap" yaml:"distinct_country_cap" validate:"gte=0,lte=1"`
	// DistinctCountryFree is how many distinct countries are considered normal.
	DistinctCountryFree int `mapstructure:"distinct_country_free" yaml:"distinct_country_free" validate:"gte=0"`
}

// AuthScoringConfig tunes the authentication scorer.
type AuthScoringConfig struct {
	Baseline                 float64 `mapstructure:"baseline" yaml:"baseline" validate:"gte=0,lte=1"`
	Cap                      float64 `mapstructure:"cap" yaml:"cap" validate:"gte=0,lte=1"`
	FailedLoginWeight        float64 `mapstructure:"failed_login_weight" yaml:"failed_login_weight" validate:"gte=0,lte=1"`
	FailedLoginCap           float64 `mapstructure:"failed_login_cap" yaml:"failed_login_cap" validate:"gte=0,lte=1"`
	MFABypassWeight          float64 `mapstructure:"mfa_bypass_weight" yaml:"mfa_bypass_weight" validate:"gte=0,lte=1"`
	MFABypassCap             float64 `mapstructure:"mfa_bypass_cap" yaml:"mfa_bypass_cap" validate:"gte=0,lte=1"`
	PasswordResetWeight      float64 `mapstructure:"password_reset_weight" yaml:"password_reset_weight" validate:"gte=0,lte=1"`
	PasswordResetCap         float64 `mapstructure:"password_reset_cap" yaml:"password_reset_cap" validate:"gte=0,lte=1"`
	CredentialStuffingWeight float64 `mapstructure:"credential_stuffing_weight" yaml:"credential_stuffing_weight" validate:"gte=0,lte=1"`
	ImpossibleLoginWeight    float64 `mapstructure:"impossible_login_weight" yaml:"impossible_login_weight" validate:"gte=0,lte=1"`
}

// ThreatIntelConfig holds the floors and ceilings forced by an external
// threat-intelligence verdict, regardless of the additive subtotal.
type ThreatIntelConfig struct {
	HighFloor      float64 `mapstructure:"high_floor" yaml:"high_floor" validate:"gte=0,lte=1"`
	CriticalFloor  float64 `mapstructure:"critical_floor" yaml:"critical_floor" validate:"gte=0,lte=1"`
	MinimalCeiling float64 `mapstructure:"minimal_ceiling" yaml:"minimal_ceiling" validate:"gte=0,lte=1"`
	CleanCeiling   float64 `mapstructure:"clean_ceiling" yaml:"clean_ceiling" validate:"gte=0,lte=1"`
}

// AggregationConfig tunes fusion of domain results into a final risk.
type AggregationConfig struct {
	HardEvidenceFloor       float64            `mapstructure:"hard_evidence_floor" yaml:"hard_evidence_floor" validate:"gte=0,lte=1"`
	MinCorroboratingDomains int                `mapstructure:"min_corroborating_domains" yaml:"min_corroborating_domains" validate:"gte=1"`
	DomainWeights           map[string]float64 `mapstructure:"domain_weights" yaml:"domain_weights" validate:"dive,gte=0"`
}

// LockingConfig tunes the optimistic locking service.
type LockingConfig struct {
	WriteTimeout        time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	SystemActor         string        `mapstructure:"system_actor" yaml:"system_actor" validate:"required"`
	HistoryDefaultLimit int           `mapstructure:"history_default_limit" yaml:"history_default_limit" validate:"gte=1"`
	HistoryMaxLimit     int           `mapstructure:"history_max_limit" yaml:"history_max_limit" validate:"gtefield=HistoryDefaultLimit"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MutationRateLimit float64       `mapstructure:"mutation_rate_limit" yaml:"mutation_rate_limit" validate:"gte=0"`
	MutationBurst     int           `mapstructure:"mutation_burst" yaml:"mutation_burst" validate:"gte=0"`
}

// FindingsConfig configures the background lint findings processor.
type FindingsConfig struct {
	Persist       bool          `mapstructure:"persist" yaml:"persist"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" validate:"gt=0"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=1"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "olorin-risk")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate_on_start", false)

	// -- Scoring: logs --
	v.SetDefault("scoring.logs.baseline", 0.1)
	v.SetDefault("scoring.logs.cap", 1.0)
	v.SetDefault("scoring.logs.failure_rate_weight", 0.5)
	v.SetDefault("scoring.logs.error_code_weight", 0.05)
	v.SetDefault("scoring.logs.error_code_cap", 0.25)
	v.SetDefault("scoring.logs.high_failure_rate", 0.3)
	v.SetDefault("scoring.logs.error_diversity_min", 3)
	v.SetDefault("scoring.logs.low_volume_threshold", 5)
	v.SetDefault("scoring.logs.single_transaction_cap", 0.25)

	// -- Scoring: network --
	v.SetDefault("scoring.network.baseline", 0.1)
	v.SetDefault("scoring.network.cap", 1.0)
	v.SetDefault("scoring.network.threat_intel_hit_weight", 0.25)
	v.SetDefault("scoring.network.threat_intel_hit_cap", 0.5)
	v.SetDefault("scoring.network.proxy_vpn_weight", 0.25)
	v.SetDefault("scoring.network.tor_weight", 0.35)
	v.SetDefault("scoring.network.asn_risk_weight", 0.15)
	v.SetDefault("scoring.network.geo_anomaly_weight", 0.15)

	// -- Scoring: device --
	v.SetDefault("scoring.device.baseline", 0.1)
	v.SetDefault("scoring.device.cap", 1.0)
	v.SetDefault("scoring.device.new_device_weight", 0.1)
	v.SetDefault("scoring.device.emulator_weight", 0.35)
	v.SetDefault("scoring.device.fingerprint_mismatch_weight", 0.25)
	v.SetDefault("scoring.device.rooted_weight", 0.2)
	v.SetDefault("scoring.device.shared_account_weight", 0.1)
	v.SetDefault("scoring.device.shared_account_cap", 0.3)

	// -- Scoring: location --
	v.SetDefault("scoring.location.baseline", 0.1)
	v.SetDefault("scoring.location.cap", 1.0)
	v.SetDefault("scoring.location.impossible_travel_weight", 0.4)
	v.SetDefault("scoring.location.high_risk_country_weight", 0.25)
	v.SetDefault("scoring.location.country_mismatch_weight", 0.15)
	v.SetDefault("scoring.location.distinct_country_weight", 0.05)
	v.SetDefault("scoring.location.distinct_country_cap", 0.2)
	v.SetDefault("scoring.location.distinct_country_free", 2)

	// -- Scoring: authentication --
	v.SetDefault("scoring.authentication.baseline", 0.1)
	v.SetDefault("scoring.authentication.cap", 1.0)
	v.SetDefault("scoring.authentication.failed_login_weight", 0.05)
	v.SetDefault("scoring.authentication.failed_login_cap", 0.3)
	v.SetDefault("scoring.authentication.mfa_bypass_weight", 0.2)
	v.SetDefault("scoring.authentication.mfa_bypass_cap", 0.4)
	v.SetDefault("scoring.authentication.password_reset_weight", 0.05)
	v.SetDefault("scoring.authentication.password_reset_cap", 0.15)
	v.SetDefault("scoring.authentication.credential_stuffing_weight", 0.35)
	v.SetDefault("scoring.authentication.impossible_login_weight", 0.3)

	// -- Scoring: threat intel --
	v.SetDefault("scoring.threat_intel.high_floor", 0.7)
	v.SetDefault("scoring.threat_intel.critical_floor", 0.85)
	v.SetDefault("scoring.threat_intel.minimal_ceiling", 0.3)
	v.SetDefault("scoring.threat_intel.clean_ceiling", 0.2)

	// -- Scoring: aggregation --
	v.SetDefault("scoring.aggregation.hard_evidence_floor", 0.6)
	v.SetDefault("scoring.aggregation.min_corroborating_domains", 2)
	v.SetDefault("scoring.aggregation.domain_weights", map[string]float64{
		"logs":           1.0,
		"network":        1.0,
		"device":         1.0,
		"location":       1.0,
		"authentication": 1.0,
	})

	// -- Locking --
	v.SetDefault("locking.write_timeout", "5s")
	v.SetDefault("locking.max_retries", 3)
	v.SetDefault("locking.system_actor", "system")
	v.SetDefault("locking.history_default_limit", 50)
	v.SetDefault("locking.history_max_limit", 500)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.mutation_rate_limit", 50.0)
	v.SetDefault("server.mutation_burst", 100)

	// -- Findings --
	v.SetDefault("findings.persist", false)
	v.SetDefault("findings.batch_size", 100)
	v.SetDefault("findings.flush_interval", "2s")
	v.SetDefault("findings.queue_size", 1024)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "OLORIN_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the URL if Unmarshal didn't pick it up
	if cfg.DatabaseCfg.URL == "" {
		cfg.DatabaseCfg.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// structValidator returns the shared validator instance. validator.Validate
// caches struct metadata and is safe for concurrent use.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	// database.url is only required by commands that touch storage.
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.ScoringCfg.Validate(); err != nil {
		return fmt.Errorf("scoring configuration invalid: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints of the scoring configuration.
func (s *ScoringConfig) Validate() error {
	if s.ThreatIntel.CleanCeiling > s.ThreatIntel.MinimalCeiling {
		return fmt.Errorf("threat_intel.clean_ceiling must not exceed threat_intel.minimal_ceiling")
	}
	if s.ThreatIntel.HighFloor > s.ThreatIntel.CriticalFloor {
		return fmt.Errorf("threat_intel.high_floor must not exceed threat_intel.critical_floor")
	}
	if s.Logs.SingleTransactionCap > s.Logs.Cap {
		return fmt.Errorf("logs.single_transaction_cap must not exceed logs.cap")
	}
	for name, w := range s.Aggregation.DomainWeights {
		if w < 0 {
			return fmt.Errorf("aggregation.domain_weights.%s must be non-negative", name)
		}
	}
	return nil
}
