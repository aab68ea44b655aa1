// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/potholewatch/potholewatch/internal/logger"
)

// Backends lists the persistent slot backends.
var Backends = []string{"memory", "file", "database", "postgres", "s3"}

// Roles lists the roles a bearer token may carry.
var Roles = []string{"citizen", "worker", "admin"}

func isKnownBackend(name string) bool {
	return slices.Contains(Backends, name)
}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	for _, check := range []func(*Settings) []string{
		validateInference,
		validatePredictions,
		validateStorage,
		validateDatabase,
		validateSecurity,
		validateMQTT,
		validateAI,
		validateNotify,
		validateWebServer,
	} {
		ve.Errors = append(ve.Errors, check(settings)...)
	}
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateInference(s *Settings) []string {
	var errs []string
	u, err := url.Parse(s.Inference.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("inference.url %q must be an absolute http(s) URL", s.Inference.URL))
	}
	if s.Inference.Timeout <= 0 {
		errs = append(errs, "inference.timeout must be positive")
	}
	if s.Inference.Retries < 0 {
		errs = append(errs, "inference.retries cannot be negative")
	}
	if s.Detection.MaxImageDimension < 0 {
		errs = append(errs, "detection.maximagedimension cannot be negative")
	}
	if q := s.Detection.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Sprintf("detection.jpegquality must be between 1 and 100, got %d", q))
	}
	return errs
}

func validatePredictions(s *Settings) []string {
	var errs []string
	if strings.TrimSpace(s.Predictions.Key) == "" {
		errs = append(errs, "predictions.key cannot be empty")
	}
	if s.Predictions.MaxInlineImageLength < 0 {
		errs = append(errs, "predictions.maxinlineimagelength cannot be negative")
	}
	return errs
}

func validateStorage(s *Settings) []string {
	var errs []string
	if !isKnownBackend(s.Storage.Backend) {
		errs = append(errs, fmt.Sprintf("storage.backend %q must be one of %s", s.Storage.Backend, strings.Join(Backends, ", ")))
	}
	if s.Storage.Quota < 0 {
		errs = append(errs, "storage.quota cannot be negative")
	}
	switch s.Storage.Backend {
	case "file":
		if s.Storage.File.Dir == "" {
			errs = append(errs, "storage.file.dir is required for the file backend")
		}
	case "postgres":
		if s.Storage.Postgres.DSN == "" {
			errs = append(errs, "storage.postgres.dsn is required for the postgres backend")
		}
	case "s3":
		if s.Storage.S3.Bucket == "" {
			errs = append(errs, "storage.s3.bucket is required for the s3 backend")
		}
	}
	return errs
}

func validateDatabase(s *Settings) []string {
	if !s.Civic.Enabled && s.Storage.Backend != "database" {
		return nil
	}
	switch s.Database.Type {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			return []string{"database.sqlite.path is required"}
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			return []string{"database.mysql.host and database.mysql.database are required"}
		}
	default:
		return []string{fmt.Sprintf("database.type %q must be sqlite or mysql", s.Database.Type)}
	}
	return nil
}

func validateSecurity(s *Settings) []string {
	var errs []string
	seen := make(map[string]bool)
	for i, t := range s.Security.Tokens {
		if t.Token == "" || t.UserID == "" {
			errs = append(errs, fmt.Sprintf("security.tokens[%d] requires token and userid", i))
		}
		if !slices.Contains(Roles, t.Role) {
			errs = append(errs, fmt.Sprintf("security.tokens[%d] role %q must be one of %s", i, t.Role, strings.Join(Roles, ", ")))
		}
		if seen[t.Token] {
			errs = append(errs, fmt.Sprintf("security.tokens[%d] duplicates an earlier token", i))
		}
		seen[t.Token] = true
	}
	return errs
}

func validateMQTT(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if s.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if s.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required when mqtt is enabled")
	}
	return errs
}

func validateAI(s *Settings) []string {
	if s.AI.Enabled && s.AI.APIKey == "" {
		return []string{"ai.apikey is required when ai is enabled"}
	}
	return nil
}

func validateNotify(s *Settings) []string {
	if !s.Notify.Enabled {
		return nil
	}
	var errs []string
	if len(s.Notify.URLs) == 0 {
		errs = append(errs, "notify.urls needs at least one URL when notify is enabled")
	}
	for _, raw := range s.Notify.URLs {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Sprintf("notify.urls entry %q is not a service URL", logger.RedactURL(raw)))
		}
	}
	return errs
}

func validateWebServer(s *Settings) []string {
	if s.WebServer.MaxConnections < 0 {
		return []string{"webserver.maxconnections must not be negative"}
	}
	return nil
}
