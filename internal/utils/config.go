package utils

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config values can be written as "30s", "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string from YAML.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PostgresConfig holds connection settings for the editor-token store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration, loaded once at startup.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Auth struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`

	Cache struct {
		RedisHost          string   `yaml:"redis_host"`
		RateLimitDB        int      `yaml:"redis_rate_db"`
		ResultCacheEnabled bool     `yaml:"result_cache_enabled"`
		ResultCacheDB      int      `yaml:"redis_result_db"`
		ResultCacheTTL     Duration `yaml:"result_cache_ttl"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          Duration `yaml:"interval"`
		UserLimit         int      `yaml:"user_limit"`
		EnableUserLimiter bool     `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Limits struct {
		MaxHTMLBytes int `yaml:"max_html_bytes"`
		MaxPDFBytes  int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Acquire struct {
		// Transport selects the page-fetch strategy: "http" or "browser".
		Transport       string            `yaml:"transport"`
		UserAgent       string            `yaml:"user_agent"`
		Cookies         map[string]string `yaml:"cookies"`
		TimeoutSecs     int               `yaml:"timeout_secs"`
		GateWaitSecs    int               `yaml:"gate_wait_secs"`
		GateTexts       []string          `yaml:"gate_texts"`
		DomPollAttempts int               `yaml:"dom_poll_attempts"`
		DomPollInterval Duration          `yaml:"dom_poll_interval"`
		ChromePath      string            `yaml:"chrome_path"`
		ChromeNoSandbox bool              `yaml:"chrome_no_sandbox"`
		UserDataDir     string            `yaml:"user_data_dir"`
	} `yaml:"acquire"`

	Storage struct {
		Bucket            string `yaml:"bucket"`
		Region            string `yaml:"region"`
		Prefix            string `yaml:"prefix"`
		UploadTimeoutSecs int    `yaml:"upload_timeout_secs"`
	} `yaml:"storage"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		AppendRange     string `yaml:"append_range"`
		CredentialsFile string `yaml:"credentials_file"`
		QueueSize       int    `yaml:"queue_size"`
	} `yaml:"sheets"`
}

var current struct {
	sync.RWMutex
	cfg Config
}

// LoadConfig reads the YAML config from CONFIG_PATH (default "config.yaml"),
// applies defaults, validates it and stores it as the process-wide config.
// Invalid configuration is a startup error and panics.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		// A missing default config file is fine; an explicit one is not.
		if explicit || !os.IsNotExist(err) {
			panic(fmt.Sprintf("cannot read config %q: %v", path, err))
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("cannot parse config %q: %v", path, err))
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		panic(fmt.Sprintf("invalid config %q: %v", path, err))
	}

	current.Lock()
	current.cfg = cfg
	current.Unlock()
	return cfg
}

// GetConfig returns the last loaded configuration.
func GetConfig() Config {
	current.RLock()
	defer current.RUnlock()
	return current.cfg
}

// SetConfigForTest replaces the process-wide config. Tests only.
func SetConfigForTest(cfg Config) {
	applyDefaults(&cfg)
	current.Lock()
	current.cfg = cfg
	current.Unlock()
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.RateLimiter.Interval <= 0 {
		cfg.RateLimiter.Interval = Duration(time.Minute)
	}
	if cfg.Limits.MaxHTMLBytes <= 0 {
		cfg.Limits.MaxHTMLBytes = 2 << 20
	}
	if cfg.Limits.MaxPDFBytes <= 0 {
		cfg.Limits.MaxPDFBytes = 50 << 20
	}
	if cfg.Acquire.Transport == "" {
		cfg.Acquire.Transport = "http"
	}
	if cfg.Acquire.UserAgent == "" {
		cfg.Acquire.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if cfg.Acquire.TimeoutSecs <= 0 {
		cfg.Acquire.TimeoutSecs = 60
	}
	if cfg.Acquire.GateWaitSecs <= 0 {
		cfg.Acquire.GateWaitSecs = 5
	}
	if len(cfg.Acquire.GateTexts) == 0 {
		cfg.Acquire.GateTexts = []string{"I understand"}
	}
	if cfg.Acquire.DomPollAttempts <= 0 {
		cfg.Acquire.DomPollAttempts = 10
	}
	if cfg.Acquire.DomPollInterval <= 0 {
		cfg.Acquire.DomPollInterval = Duration(time.Second)
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "tonebase-emails"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "Q2_2021/Q2W4/Scores/general"
	}
	if cfg.Storage.UploadTimeoutSecs <= 0 {
		cfg.Storage.UploadTimeoutSecs = 20
	}
	if cfg.Cache.ResultCacheTTL <= 0 {
		cfg.Cache.ResultCacheTTL = Duration(24 * time.Hour)
	}
	if cfg.Sheets.AppendRange == "" {
		cfg.Sheets.AppendRange = "Scores!A:E"
	}
	if cfg.Sheets.QueueSize <= 0 {
		cfg.Sheets.QueueSize = 64
	}
}

func validate(cfg Config) error {
	switch cfg.Acquire.Transport {
	case "http", "browser":
	default:
		return fmt.Errorf("acquire.transport must be \"http\" or \"browser\", got %q", cfg.Acquire.Transport)
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if cfg.Sheets.Enabled && cfg.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sheets.spreadsheet_id is required when sheets sync is enabled")
	}
	return nil
}
