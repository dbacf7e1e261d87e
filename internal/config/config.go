package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Provider   ProviderConfig   `yaml:"provider"`
	Source     SourceConfig     `yaml:"source"`
	Sync       SyncConfig       `yaml:"sync"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Auth flow selectors for ProviderConfig.Flow.
const (
	FlowPKCE         = "pkce"
	FlowClientSecret = "client_secret"
)

type ProviderConfig struct {
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
	APIBaseURL   string `yaml:"api_base_url"`
	Scope        string `yaml:"scope"`
	RedirectURI  string `yaml:"redirect_uri"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Flow         string `yaml:"flow"`
}

// Source backends.
const (
	BackendExcel        = "excel"
	BackendGoogleSheets = "google_sheets"
)

type SourceConfig struct {
	Backend          string       `yaml:"backend"`
	Path             string       `yaml:"path"`
	TasksSheet       string       `yaml:"tasks_sheet"`
	CredentialsSheet string       `yaml:"credentials_sheet"`
	Google           GoogleConfig `yaml:"google"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

// Due date encodings, see SyncConfig.DueEncoding.
const (
	DueEncodingLocal = "local"
	DueEncodingUTC   = "utc"
)

type SyncConfig struct {
	Timezone            string `yaml:"timezone"`
	DueEncoding         string `yaml:"due_encoding"`
	HTTPTimeoutSeconds  int    `yaml:"http_timeout_seconds"`
	ResultColumn        string `yaml:"result_column"`
	RequireResultColumn bool   `yaml:"require_result_column"`
}

// HTTPTimeout returns the bounded per-call timeout for provider requests.
func (s SyncConfig) HTTPTimeout() time.Duration {
	return time.Duration(s.HTTPTimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; config values may reference its variables via ${VAR}.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand environment variables before parsing the YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Provider.ClientID == "" {
		return errors.New("provider client_id is required")
	}
	if c.Provider.AuthorizeURL == "" || c.Provider.TokenURL == "" {
		return errors.New("provider authorize_url and token_url are required")
	}
	if c.Provider.APIBaseURL == "" {
		return errors.New("provider api_base_url is required")
	}

	switch c.Provider.Flow {
	case FlowPKCE:
	case FlowClientSecret:
		if c.Provider.ClientSecret == "" {
			return errors.New("client_secret flow requires provider client_secret")
		}
	default:
		return fmt.Errorf("unknown provider flow: %q", c.Provider.Flow)
	}

	switch c.Source.Backend {
	case BackendExcel:
		if c.Source.Path == "" {
			return errors.New("excel backend requires source path")
		}
	case BackendGoogleSheets:
		if c.Source.Google.CredentialsFile == "" || c.Source.Google.SpreadsheetID == "" {
			return errors.New("google_sheets backend requires credentials_file and spreadsheet_id")
		}
	default:
		return fmt.Errorf("unknown source backend: %q", c.Source.Backend)
	}

	switch c.Sync.DueEncoding {
	case DueEncodingLocal, DueEncodingUTC:
	default:
		return fmt.Errorf("unknown due_encoding: %q", c.Sync.DueEncoding)
	}

	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid sync timezone %q: %w", c.Sync.Timezone, err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Flow == "" {
		c.Provider.Flow = FlowPKCE
	}
	if c.Source.Backend == "" {
		c.Source.Backend = BackendExcel
	}
	if c.Source.TasksSheet == "" {
		c.Source.TasksSheet = "Tasks"
	}
	if c.Source.CredentialsSheet == "" {
		c.Source.CredentialsSheet = "Credentials"
	}
	if c.Sync.Timezone == "" {
		c.Sync.Timezone = "UTC"
	}
	if c.Sync.DueEncoding == "" {
		c.Sync.DueEncoding = DueEncodingLocal
	}
	if c.Sync.HTTPTimeoutSeconds == 0 {
		c.Sync.HTTPTimeoutSeconds = 30
	}
	if c.Sync.ResultColumn == "" {
		c.Sync.ResultColumn = "result"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
