// config.go: settings struct and functions to load and save threatlink configuration.
package conf

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Weights are the per-dimension multipliers of the overall relationship score.
// They are applied as configured and are not renormalized.
type Weights struct {
	Indicator float64 `yaml:"indicator" json:"indicator" mapstructure:"indicator"`
	Technique float64 `yaml:"technique" json:"technique" mapstructure:"technique"`
	Actor     float64 `yaml:"actor" json:"actor" mapstructure:"actor"`
	Semantic  float64 `yaml:"semantic" json:"semantic" mapstructure:"semantic"`
}

// CorrelationSettings is the hot-reloadable section that drives scoring,
// campaign detection and priority.
type CorrelationSettings struct {
	LookbackDays              int     `yaml:"lookback_days" json:"lookback_days" mapstructure:"lookback_days"`
	Weights                   Weights `yaml:"weights" json:"weights" mapstructure:"weights"`
	MinimumScore              float64 `yaml:"minimum_score" json:"minimum_score" mapstructure:"minimum_score"`
	MinimumSharedEntities     int     `yaml:"minimum_shared_entities" json:"minimum_shared_entities" mapstructure:"minimum_shared_entities"`
	RequireExactMatch         bool    `yaml:"require_exact_match" json:"require_exact_match" mapstructure:"require_exact_match"`
	SemanticEnabled           bool    `yaml:"semantic_enabled" json:"semantic_enabled" mapstructure:"semantic_enabled"`
	SemanticThreshold         float64 `yaml:"semantic_threshold" json:"semantic_threshold" mapstructure:"semantic_threshold"`
	CampaignMinArticles       int     `yaml:"campaign_min_articles" json:"campaign_min_articles" mapstructure:"campaign_min_articles"`
	CampaignTimeWindowDays    int     `yaml:"campaign_time_window_days" json:"campaign_time_window_days" mapstructure:"campaign_time_window_days"`
	CampaignMinSharedEntities int     `yaml:"campaign_min_shared_entities" json:"campaign_min_shared_entities" mapstructure:"campaign_min_shared_entities"`
	CampaignScoreThreshold    float64 `yaml:"campaign_score_threshold" json:"campaign_score_threshold" mapstructure:"campaign_score_threshold"`
	CriticalConfidence        int     `yaml:"critical_confidence" json:"critical_confidence" mapstructure:"critical_confidence"`
}

// Checksum is a stable digest of the section, used to skip no-op activations.
func (c *CorrelationSettings) Checksum() string {
	data, _ := json.Marshal(c) // plain struct of scalars, cannot fail
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CampaignSettings controls the campaign status lifecycle.
type CampaignSettings struct {
	DormantAfterDays int           `yaml:"dormant_after_days" mapstructure:"dormant_after_days"`
	ClosedAfterDays  int           `yaml:"closed_after_days" mapstructure:"closed_after_days"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"` // serve mode status sweep
}

// RetrySettings is the whole-document retry policy of the worker pool.
type RetrySettings struct {
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// PipelineSettings sizes the worker pool.
type PipelineSettings struct {
	Workers    int           `yaml:"workers" mapstructure:"workers"`
	QueueSize  int           `yaml:"queue_size" mapstructure:"queue_size"`
	RunTimeout time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
	Retry      RetrySettings `yaml:"retry" mapstructure:"retry"`
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DatastoreSettings selects and configures the store backend.
type DatastoreSettings struct {
	Type               string         `yaml:"type" mapstructure:"type"` // sqlite or mysql
	SlowQueryThreshold time.Duration  `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"`
	SQLite             SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL              MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
}

// SemanticSettings configures the embedding backend.
type SemanticSettings struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // none, ollama, openai, tei
	Model             string        `yaml:"model" mapstructure:"model"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BatchSize         int           `yaml:"batch_size" mapstructure:"batch_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// APISettings contains settings for the HTTP API.
type APISettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MQTTSettings contains settings for MQTT event publishing.
type MQTTSettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker      string `yaml:"broker" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	Retain      bool   `yaml:"retain" mapstructure:"retain"`
}

// NotificationSettings contains settings for push alerts.
type NotificationSettings struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs    []string      `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// Settings is the complete threatlink configuration.
type Settings struct {
	Debug        bool                 `yaml:"debug" mapstructure:"debug"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Correlation  CorrelationSettings  `yaml:"correlation" mapstructure:"correlation"`
	Campaign     CampaignSettings     `yaml:"campaign" mapstructure:"campaign"`
	Pipeline     PipelineSettings     `yaml:"pipeline" mapstructure:"pipeline"`
	Datastore    DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	Semantic     SemanticSettings     `yaml:"semantic" mapstructure:"semantic"`
	API          APISettings          `yaml:"api" mapstructure:"api"`
	MQTT         MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Sentry       SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
// An empty configFile searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_settings").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults, binds the environment and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(err).
				Component("configuration").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the last loaded settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically. Comments and
// ordering in an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// cross-device rename
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
