// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := ValidateCorrelation(&settings.Correlation); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateCampaignSettings(&settings.Campaign); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validatePipelineSettings(&settings.Pipeline); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateDatastoreSettings(&settings.Datastore); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateSemanticSettings(&settings.Semantic); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateAPISettings(&settings.API); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt: broker is required when enabled")
	}
	if settings.Notification.Enabled && len(settings.Notification.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notification: at least one URL is required when enabled")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry: dsn is required when enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// ValidateCorrelation checks the hot-reloadable correlation section on its own,
// so a bad reload can be rejected without touching the rest of the settings.
func ValidateCorrelation(c *CorrelationSettings) error {
	var errs []string

	if c.LookbackDays < 1 {
		errs = append(errs, "lookback_days must be at least 1")
	}

	for name, w := range map[string]float64{
		"indicator": c.Weights.Indicator,
		"technique": c.Weights.Technique,
		"actor":     c.Weights.Actor,
		"semantic":  c.Weights.Semantic,
	} {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("weights.%s must be between 0 and 1", name))
		}
	}
	if c.Weights.Indicator+c.Weights.Technique+c.Weights.Actor+c.Weights.Semantic == 0 {
		errs = append(errs, "at least one weight must be positive")
	}

	if c.MinimumScore < 0 || c.MinimumScore > 1 {
		errs = append(errs, "minimum_score must be between 0 and 1")
	}
	if c.MinimumSharedEntities < 0 {
		errs = append(errs, "minimum_shared_entities must not be negative")
	}
	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		errs = append(errs, "semantic_threshold must be between 0 and 1")
	}
	if c.CampaignMinArticles < 2 {
		errs = append(errs, "campaign_min_articles must be at least 2")
	}
	if c.CampaignTimeWindowDays < 1 {
		errs = append(errs, "campaign_time_window_days must be at least 1")
	}
	if c.CampaignMinSharedEntities < 1 {
		errs = append(errs, "campaign_min_shared_entities must be at least 1")
	}
	if c.CampaignScoreThreshold < 0 || c.CampaignScoreThreshold > 1 {
		errs = append(errs, "campaign_score_threshold must be between 0 and 1")
	}
	if c.CriticalConfidence < 0 || c.CriticalConfidence > 100 {
		errs = append(errs, "critical_confidence must be between 0 and 100")
	}

	if len(errs) > 0 {
		slices.Sort(errs) // map iteration order
		return ValidationError{Errors: prefixAll("correlation", errs)}
	}
	return nil
}

func validateCampaignSettings(c *CampaignSettings) error {
	if c.DormantAfterDays < 1 || c.ClosedAfterDays <= c.DormantAfterDays {
		return fmt.Errorf("campaign: closed_after_days (%d) must exceed dormant_after_days (%d) and both must be positive",
			c.ClosedAfterDays, c.DormantAfterDays)
	}
	return nil
}

func validatePipelineSettings(p *PipelineSettings) error {
	var errs []string
	if p.Workers < 1 {
		errs = append(errs, "workers must be at least 1")
	}
	if p.QueueSize < 1 {
		errs = append(errs, "queue_size must be at least 1")
	}
	if p.RunTimeout <= 0 {
		errs = append(errs, "run_timeout must be positive")
	}
	if p.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must not be negative")
	}
	if p.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be at least 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: %s", strings.Join(errs, ", "))
	}
	return nil
}

func validateDatastoreSettings(d *DatastoreSettings) error {
	switch d.Type {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("datastore: sqlite.path is required")
		}
	case "mysql":
		if d.MySQL.Host == "" || d.MySQL.Database == "" || d.MySQL.Username == "" {
			return fmt.Errorf("datastore: mysql host, database and username are required")
		}
	default:
		return fmt.Errorf("datastore: unsupported type %q", d.Type)
	}
	return nil
}

func validateSemanticSettings(s *SemanticSettings) error {
	switch s.Provider {
	case "none", "":
		return nil
	case "ollama", "tei":
		if s.BaseURL == "" {
			return fmt.Errorf("semantic: base_url is required for %s", s.Provider)
		}
	case "openai":
		if s.APIKey == "" {
			return fmt.Errorf("semantic: api_key is required for openai")
		}
	default:
		return fmt.Errorf("semantic: unsupported provider %q", s.Provider)
	}
	if s.Model == "" && s.Provider != "tei" {
		return fmt.Errorf("semantic: model is required for %s", s.Provider)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("semantic: batch_size must be at least 1")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("semantic: requests_per_second must be positive")
	}
	return nil
}

func validateAPISettings(a *APISettings) error {
	if !a.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(a.Listen); err != nil {
		return fmt.Errorf("api: invalid listen address %q: %w", a.Listen, err)
	}
	return nil
}

func prefixAll(prefix string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = prefix + ": " + m
	}
	return out
}
