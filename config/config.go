package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Mode         Mode               `toml:"-"`
	Region       string             `toml:"region"`
	Service      ServiceConfig      `toml:"service"`
	Endpoints    EndpointsConfig    `toml:"endpoints"`
	Verification VerificationConfig `toml:"verification"`
	SessionCache SessionCacheConfig `toml:"session_cache"`
	Redis        RedisConfig        `toml:"redis"`
	Database     DatabaseConfig     `toml:"database"`
	KMS          KMSConfig          `toml:"kms"`
	Compare      CompareConfig      `toml:"compare"`
	Upload       UploadConfig       `toml:"upload"`
	SES          SESConfig          `toml:"ses"`
}

type ServiceConfig struct {
	Mode        string   `toml:"mode"`
	Port        uint32   `toml:"port"`
	LogLevel    string   `toml:"log_level"`
	CORSOrigins []string `toml:"cors_origins"`
}

type EndpointsConfig struct {
	VerificationAPI string `toml:"verification_api"`
	AWSEndpoint     string `toml:"aws_endpoint"`
	// Camera is the snapshot URL of a network camera. Without it only file selection is available.
	Camera string `toml:"camera"`
}

// VerificationConfig tunes an attempt. The countdown runs through both the pending and
// processing phases and is the binding limit on an attempt. MaxPollAttempts is a backstop that
// only fires when the countdown outlasts the poll budget. With the defaults the last poll would
// be due at 301s, after the 300s countdown has already expired the session.
type VerificationConfig struct {
	// Strategy selects how an attempt is submitted: "polling" or "oneshot".
	Strategy        string        `toml:"strategy"`
	Debounce        time.Duration `toml:"debounce"`
	Countdown       time.Duration `toml:"countdown"`
	StartDelay      time.Duration `toml:"start_delay"`
	PollInterval    time.Duration `toml:"poll_interval"`
	MaxPollAttempts int           `toml:"max_poll_attempts"`
	ScanInterval    time.Duration `toml:"scan_interval"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
}

// PollBudget is the time the polling strategy takes to exhaust MaxPollAttempts, ignoring request
// latency. It is zero when polling is unbounded.
func (v VerificationConfig) PollBudget() time.Duration {
	if v.MaxPollAttempts <= 0 {
		return 0
	}
	return v.StartDelay + time.Duration(v.MaxPollAttempts)*v.PollInterval
}

// PollLimitReachable reports whether the poll limit can end an attempt before the countdown does.
func (v VerificationConfig) PollLimitReachable() bool {
	budget := v.PollBudget()
	return budget > 0 && (v.Countdown <= 0 || budget < v.Countdown)
}

type SessionCacheConfig struct {
	// Backend is one of "memory", "file", "redis" or "dynamodb".
	Backend string `toml:"backend"`
	Key     string `toml:"key"`
	Path    string `toml:"path"`
	Seal    bool   `toml:"seal"`
}

type RedisConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Namespace string `toml:"namespace"`
}

type DatabaseConfig struct {
	AuthRecordsTable string `toml:"auth_records_table"`
	DeviceID         string `toml:"device_id"`
}

type KMSConfig struct {
	SessionKey string `toml:"session_key"`
}

type CompareConfig struct {
	// Provider is one of "gemini", "regula" or "none".
	Provider           string        `toml:"provider"`
	GeminiEndpoint     string        `toml:"gemini_endpoint"`
	GeminiModel        string        `toml:"gemini_model"`
	GeminiAPIKey       string        `toml:"gemini_api_key"`
	GeminiAPIKeySecret string        `toml:"gemini_api_key_secret"`
	RegulaURL          string        `toml:"regula_url"`
	Threshold          float64       `toml:"threshold"`
	Timeout            time.Duration `toml:"timeout"`
}

type UploadConfig struct {
	Endpoint     string `toml:"endpoint"`
	Preset       string `toml:"preset"`
	PresetSecret string `toml:"preset_secret"`
}

type SESConfig struct {
	Enabled       bool   `toml:"enabled"`
	Region        string `toml:"region"`
	Source        string `toml:"source"`
	SourceARN     string `toml:"source_arn"`
	AccessRoleARN string `toml:"access_role_arn"`
}

// New reads the config file named by the CONFIG environment variable.
func New() (*Config, error) {
	return Load(os.Getenv("CONFIG"))
}

func Load(fileName string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(fileName, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) finalize() error {
	var mode Mode
	switch cfg.Service.Mode {
	case "local", "":
		mode = LocalMode
	case "dev", "development":
		mode = DevelopmentMode
	case "prod", "production":
		mode = ProductionMode
	default:
		return fmt.Errorf("config service.mode value is invalid, must be one of \"local\", \"development\", \"dev\", \"production\" or \"prod\"")
	}
	cfg.Mode = mode
	cfg.Service.Mode = mode.String()

	cfg.SetDefaults()
	return cfg.Validate()
}

// SetDefaults fills every zero value with its default.
func (cfg *Config) SetDefaults() {
	if cfg.Service.Port == 0 {
		cfg.Service.Port = 8080
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}

	v := &cfg.Verification
	if v.Strategy == "" {
		v.Strategy = StrategyPolling
	}
	if v.Debounce == 0 {
		v.Debounce = 500 * time.Millisecond
	}
	if v.Countdown == 0 {
		v.Countdown = 300 * time.Second
	}
	if v.StartDelay == 0 {
		v.StartDelay = 1 * time.Second
	}
	if v.PollInterval == 0 {
		v.PollInterval = 2 * time.Second
	}
	if v.MaxPollAttempts == 0 {
		v.MaxPollAttempts = 150
	}
	if v.ScanInterval == 0 {
		v.ScanInterval = 100 * time.Millisecond
	}
	if v.RequestTimeout == 0 {
		v.RequestTimeout = 30 * time.Second
	}

	if cfg.SessionCache.Backend == "" {
		cfg.SessionCache.Backend = "memory"
	}
	if cfg.SessionCache.Key == "" {
		cfg.SessionCache.Key = "biometricAuthToken"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.Namespace == "" {
		cfg.Redis.Namespace = "identity-verifier"
	}

	if cfg.Compare.Provider == "" {
		cfg.Compare.Provider = "gemini"
	}
	if cfg.Compare.GeminiEndpoint == "" {
		cfg.Compare.GeminiEndpoint = "https://generativelanguage.googleapis.com"
	}
	if cfg.Compare.GeminiModel == "" {
		cfg.Compare.GeminiModel = "gemini-2.0-flash-001"
	}
	if cfg.Compare.Threshold == 0 {
		cfg.Compare.Threshold = 0.75
	}
	if cfg.Compare.Timeout == 0 {
		cfg.Compare.Timeout = 30 * time.Second
	}
}

const (
	StrategyPolling = "polling"
	StrategyOneShot = "oneshot"
)

func (cfg *Config) Validate() error {
	switch cfg.Verification.Strategy {
	case StrategyPolling, StrategyOneShot:
	default:
		return fmt.Errorf("config verification.strategy value is invalid, must be one of %q or %q", StrategyPolling, StrategyOneShot)
	}
	if cfg.Verification.MaxPollAttempts < 0 {
		return fmt.Errorf("config verification.max_poll_attempts must not be negative")
	}
	switch cfg.SessionCache.Backend {
	case "memory", "redis":
	case "file":
		if cfg.SessionCache.Path == "" {
			return fmt.Errorf("config session_cache.path is required for the file backend")
		}
	case "dynamodb":
		if cfg.Database.AuthRecordsTable == "" {
			return fmt.Errorf("config database.auth_records_table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("config session_cache.backend value is invalid: %q", cfg.SessionCache.Backend)
	}
	if cfg.SessionCache.Seal && cfg.KMS.SessionKey == "" {
		return fmt.Errorf("config kms.session_key is required when session_cache.seal is enabled")
	}
	switch cfg.Compare.Provider {
	case "gemini", "regula", "none":
	default:
		return fmt.Errorf("config compare.provider value is invalid: %q", cfg.Compare.Provider)
	}
	return nil
}

type Mode uint32

const (
	LocalMode Mode = iota
	DevelopmentMode
	ProductionMode
)

func (m Mode) String() string {
	switch m {
	case LocalMode:
		return "local"
	case DevelopmentMode:
		return "development"
	case ProductionMode:
		return "production"
	default:
		return ""
	}
}
