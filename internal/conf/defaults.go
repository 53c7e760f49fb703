// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/threatlink.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("correlation.lookback_days", 90)
	viper.SetDefault("correlation.weights.indicator", 0.40)
	viper.SetDefault("correlation.weights.technique", 0.30)
	viper.SetDefault("correlation.weights.actor", 0.20)
	viper.SetDefault("correlation.weights.semantic", 0.10)
	viper.SetDefault("correlation.minimum_score", 0.60)
	viper.SetDefault("correlation.minimum_shared_entities", 1)
	viper.SetDefault("correlation.require_exact_match", false)
	viper.SetDefault("correlation.semantic_enabled", false)
	viper.SetDefault("correlation.semantic_threshold", 0.75)
	viper.SetDefault("correlation.campaign_min_articles", 3)
	viper.SetDefault("correlation.campaign_time_window_days", 90)
	viper.SetDefault("correlation.campaign_min_shared_entities", 2)
	viper.SetDefault("correlation.campaign_score_threshold", 0.70)
	viper.SetDefault("correlation.critical_confidence", 90)

	viper.SetDefault("campaign.dormant_after_days", 30)
	viper.SetDefault("campaign.closed_after_days", 180)
	viper.SetDefault("campaign.refresh_interval", time.Hour)

	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.queue_size", 256)
	viper.SetDefault("pipeline.run_timeout", 2*time.Minute)
	viper.SetDefault("pipeline.retry.max_retries", 3)
	viper.SetDefault("pipeline.retry.initial_delay", 100*time.Millisecond)
	viper.SetDefault("pipeline.retry.max_delay", 5*time.Second)
	viper.SetDefault("pipeline.retry.multiplier", 2.0)

	viper.SetDefault("datastore.type", "sqlite")
	viper.SetDefault("datastore.slow_query_threshold", 200*time.Millisecond)
	viper.SetDefault("datastore.sqlite.path", "threatlink.db")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")
	viper.SetDefault("datastore.mysql.database", "threatlink")

	viper.SetDefault("semantic.provider", "none")
	viper.SetDefault("semantic.requests_per_second", 5.0)
	viper.SetDefault("semantic.batch_size", 16)
	viper.SetDefault("semantic.cache_ttl", time.Hour)
	viper.SetDefault("semantic.timeout", 30*time.Second)
	viper.SetDefault("semantic.max_retries", 3)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8088")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.client_id", "threatlink")
	viper.SetDefault("mqtt.topic_prefix", "threatlink")

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("sentry.enabled", false)
}
