// env.go environment variable bindings for potholewatch
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "POTHOLEWATCH"

type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", EnvPrefix + "_DEBUG", validateEnvBool},
		{"webserver.listen", EnvPrefix + "_LISTEN", nil},
		{"inference.url", EnvPrefix + "_INFERENCE_URL", validateEnvURL},
		{"storage.backend", EnvPrefix + "_STORAGE_BACKEND", validateEnvBackend},
		{"storage.file.dir", EnvPrefix + "_STORAGE_FILE_DIR", nil},
		{"storage.postgres.dsn", EnvPrefix + "_POSTGRES_DSN", nil},
		{"storage.s3.bucket", EnvPrefix + "_S3_BUCKET", nil},
		{"database.type", EnvPrefix + "_DATABASE_TYPE", nil},
		{"database.sqlite.path", EnvPrefix + "_SQLITE_PATH", nil},
		{"database.mysql.password", EnvPrefix + "_MYSQL_PASSWORD", nil},
		{"ai.enabled", EnvPrefix + "_AI_ENABLED", validateEnvBool},
		{"ai.apikey", "GEMINI_API_KEY", nil},
		{"mqtt.password", EnvPrefix + "_MQTT_PASSWORD", nil},
		{"telemetry.sentry.dsn", "SENTRY_DSN", nil},
	}
}

// bindEnvVars binds each variable and validates values that are set.
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
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !isKnownBackend(value) {
		return fmt.Errorf("must be one of %s", strings.Join(Backends, ", "))
	}
	return nil
}
