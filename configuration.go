package ubiq

import (
	"github.com/ubiqsecurity/ubiq-go/internal/config"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
)

// TimestampGranularity controls the bucketing applied to usage event
// timestamps at serialization time (spec §3, §4.6).
type TimestampGranularity = config.TimestampGranularity

const (
	GranularityMicros   = config.GranularityMicros
	GranularityMillis   = config.GranularityMillis
	GranularitySeconds  = config.GranularitySeconds
	GranularityMinutes  = config.GranularityMinutes
	GranularityHours    = config.GranularityHours
	GranularityHalfDays = config.GranularityHalfDays
	GranularityDays     = config.GranularityDays
)

// Configuration is immutable after construction (spec §3) and controls
// event reporting, logging verbosity and key caching behavior for every
// Credentials value built from it.
type Configuration struct {
	inner config.Configuration
}

// DefaultConfiguration returns a Configuration populated with spec §3's
// defaults.
func DefaultConfiguration() Configuration {
	return Configuration{inner: config.DefaultConfiguration()}
}

// LoadConfigurationFile reads the JSON configuration file at path (spec §6),
// applying its values on top of DefaultConfiguration. A missing file is not
// an error.
func LoadConfigurationFile(path string) (Configuration, error) {
	cfg, err := config.LoadConfigurationFile(path)
	return Configuration{inner: cfg}, err
}

func toEventsGranularity(g TimestampGranularity) events.TimestampGranularity {
	switch g {
	case config.GranularityMillis:
		return events.Millis
	case config.GranularitySeconds:
		return events.Seconds
	case config.GranularityMinutes:
		return events.Minutes
	case config.GranularityHours:
		return events.Hours
	case config.GranularityHalfDays:
		return events.HalfDays
	case config.GranularityDays:
		return events.Days
	default:
		return events.Micros
	}
}
