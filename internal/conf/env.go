// env.go - environment variable overrides for threatlink settings
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. THREATLINK_API_LISTEN.
const EnvPrefix = "THREATLINK"

type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// Secrets are bound explicitly so they work even when absent from the file.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"datastore.mysql.password", "THREATLINK_MYSQL_PASSWORD", nil},
		{"semantic.api_key", "THREATLINK_SEMANTIC_API_KEY", nil},
		{"semantic.base_url", "THREATLINK_SEMANTIC_BASE_URL", validateEnvURL},
		{"mqtt.password", "THREATLINK_MQTT_PASSWORD", nil},
		{"sentry.dsn", "THREATLINK_SENTRY_DSN", validateEnvURL},
	}
}

func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("expected absolute URL")
	}
	return nil
}

// configureEnvironmentVariables maps nested keys to THREATLINK_SECTION_KEY.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
