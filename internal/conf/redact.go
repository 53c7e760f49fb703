package conf

const redactedValue = "[redacted]"

// Redacted returns a copy of s with credentials replaced, for display.
func Redacted(s *Settings) *Settings {
	out := *s
	out.Datastore.MySQL.Password = redact(s.Datastore.MySQL.Password)
	out.Semantic.APIKey = redact(s.Semantic.APIKey)
	out.MQTT.Password = redact(s.MQTT.Password)
	out.Sentry.DSN = redact(s.Sentry.DSN)
	if len(s.Notification.URLs) > 0 {
		// service URLs embed tokens
		out.Notification.URLs = make([]string, len(s.Notification.URLs))
		for i := range s.Notification.URLs {
			out.Notification.URLs[i] = redactedValue
		}
	}
	return &out
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return redactedValue
}
