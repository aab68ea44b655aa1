// conf/config.go settings model and loading for potholewatch
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root of the configuration tree.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string // instance name shown in health responses and MQTT client ids
	}

	Logging logger.LoggingConfig

	WebServer   WebServerSettings
	Inference   InferenceSettings
	Detection   DetectionSettings
	Predictions PredictionSettings
	Storage     StorageSettings
	Database    DatabaseSettings
	Civic       CivicSettings
	AI          AISettings
	MQTT        MQTTSettings
	Notify      NotifySettings
	Security    SecuritySettings
	Telemetry   TelemetrySettings
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled        bool
	Listen         string // address:port
	BodyLimit      string // echo body limit, e.g. "12M"
	CORS           []string
	MaxConnections int // concurrent connections, 0 means unlimited
	RateLimit      RateLimitSettings
}

// RateLimitSettings throttles prediction uploads per client IP.
type RateLimitSettings struct {
	Enabled bool
	Rate    float64 // requests per second
	Burst   int
}

// InferenceSettings points at the external segmentation service.
type InferenceSettings struct {
	URL      string        // base URL, /predict is appended
	Timeout  time.Duration // per request
	Retries  int           // extra attempts on network errors and 5xx
	CacheTTL time.Duration // response cache keyed by image hash, 0 disables
}

// DetectionSettings controls upload preprocessing.
type DetectionSettings struct {
	MaxImageDimension int // longest side in pixels, 0 keeps the original size
	JPEGQuality       int
	MaxUploadBytes    int64
}

// PredictionSettings configures the history store and its persistence.
type PredictionSettings struct {
	Key                  string        // slot key owned by the persistence adapter
	MaxInlineImageLength int           // images longer than this are dropped from the persisted copy
	PersistTimeout       time.Duration // bound on a single slot write
}

// StorageSettings selects the persistent slot backend.
type StorageSettings struct {
	Backend  string // memory, file, database, postgres, s3
	Quota    int64  // bytes, 0 means unlimited
	File     FileSlotSettings
	Postgres PostgresSettings
	S3       S3Settings
}

// FileSlotSettings stores each key as a file under Dir.
type FileSlotSettings struct {
	Dir string
}

// PostgresSettings holds a pgx connection string.
type PostgresSettings struct {
	DSN string
}

// S3Settings configures the object storage slot.
type S3Settings struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for MinIO and friends
	Prefix    string
	PathStyle bool
}

// DatabaseSettings configures the gorm database used by the civic workflow
// and the database slot backend.
type DatabaseSettings struct {
	Type   string // sqlite or mysql
	SQLite struct {
		Path string
	}
	MySQL struct {
		Username string
		Password string
		Host     string
		Port     int
		Database string
	}
	SlowQueryThreshold time.Duration
}

// CivicSettings toggles the report, task and leaderboard workflow.
type CivicSettings struct {
	Enabled bool
}

// AISettings configures the generative report and chat assistant.
type AISettings struct {
	Enabled bool
	APIKey  string
	Model   string
	Timeout time.Duration
}

// MQTTSettings contains settings for publishing prediction events.
type MQTTSettings struct {
	Enabled   bool
	Broker    string // tcp://host:port
	Topic     string
	Username  string
	Password  string
	Retain    bool
	QueueSize int
}

// NotifySettings configures push notifications to city staff. URLs use
// shoutrrr service URLs, e.g. slack://token@channel or telegram://...
type NotifySettings struct {
	Enabled   bool
	URLs      []string
	Timeout   time.Duration
	QueueSize int
}

// SecuritySettings holds the static bearer tokens used for role gating.
type SecuritySettings struct {
	Tokens []TokenSettings
}

// TokenSettings maps a bearer token to a user and a role.
type TokenSettings struct {
	Token  string
	UserID string
	Role   string // citizen, worker or admin
}

// TelemetrySettings contains settings for metrics and error reporting.
type TelemetrySettings struct {
	Metrics struct {
		Enabled bool
		Path    string
	}
	Sentry struct {
		Enabled     bool
		DSN         string
		Environment string
		SampleRate  float64
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads configuration from file, environment and defaults, validates it
// and installs it as the current settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds environment variables and reads the config
// file when one exists. A missing file is not an error.
func initViper() error {
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("file", viper.ConfigFileUsed()).
			Build()
	}
	return nil
}

// GetDefaultConfigPaths lists the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "potholewatch"))
	}
	return append(paths, "/etc/potholewatch")
}

// DefaultConfig returns the embedded reference configuration.
func DefaultConfig() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// WriteDefaultConfig writes the embedded configuration to path unless a file
// already exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists", path).
			Component("conf").
			Category(errors.CategoryConflict).
			Build()
	}
	data, err := DefaultConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				logger.Global().Module("conf").Error("failed to load settings", logger.Error(err))
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// Redacted renders settings as YAML with credentials masked.
func (s *Settings) Redacted() ([]byte, error) {
	masked := *s
	masked.AI.APIKey = mask(masked.AI.APIKey)
	masked.MQTT.Password = mask(masked.MQTT.Password)
	masked.Notify.URLs = make([]string, len(s.Notify.URLs))
	for i, u := range s.Notify.URLs {
		masked.Notify.URLs[i] = logger.RedactURL(u)
	}
	masked.Database.MySQL.Password = mask(masked.Database.MySQL.Password)
	masked.Storage.Postgres.DSN = mask(masked.Storage.Postgres.DSN)
	masked.Telemetry.Sentry.DSN = mask(masked.Telemetry.Sentry.DSN)
	masked.Security.Tokens = make([]TokenSettings, len(s.Security.Tokens))
	for i, t := range s.Security.Tokens {
		t.Token = mask(t.Token)
		masked.Security.Tokens[i] = t
	}
	return yaml.Marshal(&masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
