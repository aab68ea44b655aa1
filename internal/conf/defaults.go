// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with other packages.
const (
	DefaultPredictionsKey       = "pothole-app-predictions"
	DefaultMaxInlineImageLength = 1000
	DefaultSlotQuota            = 5 * 1024 * 1024
)

// setDefaultConfig registers a default for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "potholewatch")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.console.format", "text")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/potholewatch.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.bodylimit", "12M")
	viper.SetDefault("webserver.cors", []string{"*"})
	viper.SetDefault("webserver.maxconnections", 256)
	viper.SetDefault("webserver.ratelimit.enabled", true)
	viper.SetDefault("webserver.ratelimit.rate", 1.0)
	viper.SetDefault("webserver.ratelimit.burst", 5)

	viper.SetDefault("inference.url", "http://localhost:8000")
	viper.SetDefault("inference.timeout", 60*time.Second)
	viper.SetDefault("inference.retries", 2)
	viper.SetDefault("inference.cachettl", 10*time.Minute)

	viper.SetDefault("detection.maximagedimension", 1280)
	viper.SetDefault("detection.jpegquality", 85)
	viper.SetDefault("detection.maxuploadbytes", 10*1024*1024)

	viper.SetDefault("predictions.key", DefaultPredictionsKey)
	viper.SetDefault("predictions.maxinlineimagelength", DefaultMaxInlineImageLength)
	viper.SetDefault("predictions.persisttimeout", 5*time.Second)

	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.quota", DefaultSlotQuota)
	viper.SetDefault("storage.file.dir", "data/slots")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.prefix", "potholewatch/")

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "data/potholewatch.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.database", "potholewatch")
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)

	viper.SetDefault("civic.enabled", true)

	viper.SetDefault("ai.enabled", false)
	viper.SetDefault("ai.model", "gemini-1.5-flash")
	viper.SetDefault("ai.timeout", 30*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "potholewatch/predictions")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.queuesize", 64)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.timeout", 10*time.Second)
	viper.SetDefault("notify.queuesize", 32)

	viper.SetDefault("telemetry.metrics.enabled", true)
	viper.SetDefault("telemetry.metrics.path", "/metrics")
	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.environment", "production")
	viper.SetDefault("telemetry.sentry.samplerate", 1.0)
}
