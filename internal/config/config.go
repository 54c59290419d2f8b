// Package config loads the Configuration and Credentials values that every
// other package in this module receives by explicit parameter, rather than
// reading a module-level singleton (see DESIGN.md's notes on the "CONFIG" /
// "UBIQ_HOST" globals in the source this was distilled from).
package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// DefaultHost is the only compile-time constant this module carries for the
// KMS address; everything else is threaded through Configuration/Credentials.
const DefaultHost = "https://api.ubiqsecurity.com"

// TimestampGranularity controls the bucketing applied to usage event
// timestamps at serialization time (spec §3, §4.6).
type TimestampGranularity int

const (
	GranularityMicros TimestampGranularity = iota
	GranularityMillis
	GranularitySeconds
	GranularityMinutes
	GranularityHours
	GranularityHalfDays
	GranularityDays
)

// ParseGranularity maps a case-insensitive configuration string onto a
// TimestampGranularity, defaulting to Micros for unrecognized values (mirrors
// get_timestamp_granularity in the distilled source).
func ParseGranularity(s string) TimestampGranularity {
	switch strings.ToUpper(s) {
	case "MILLIS":
		return GranularityMillis
	case "SECONDS":
		return GranularitySeconds
	case "MINUTES":
		return GranularityMinutes
	case "HOURS":
		return GranularityHours
	case "HALF_DAYS":
		return GranularityHalfDays
	case "DAYS":
		return GranularityDays
	default:
		return GranularityMicros
	}
}

// EventReporting holds the event_reporting configuration section.
type EventReporting struct {
	WakeInterval         time.Duration
	MinimumCount         int
	FlushInterval        time.Duration
	TrapExceptions       bool
	TimestampGranularity TimestampGranularity
	Synchronous          bool
}

// Logging holds the logging configuration section.
type Logging struct {
	Verbose bool
}

// KeyCaching holds the key_caching configuration section.
type KeyCaching struct {
	Unstructured bool
	Structured   bool
	// Encrypt, when true, makes the cache store the wrapped key and unwrap
	// on every retrieval instead of caching the unwrapped key directly.
	Encrypt bool
	TTL     time.Duration
}

// Configuration is immutable after construction (spec §3).
type Configuration struct {
	EventReporting EventReporting
	Logging        Logging
	KeyCaching     KeyCaching
}

// DefaultConfiguration returns a Configuration populated with the exact
// defaults required by spec §3.
func DefaultConfiguration() Configuration {
	return Configuration{
		EventReporting: EventReporting{
			WakeInterval:         10 * time.Second,
			MinimumCount:         50,
			FlushInterval:        90 * time.Second,
			TrapExceptions:       false,
			TimestampGranularity: GranularityMicros,
			Synchronous:          false,
		},
		Logging: Logging{Verbose: false},
		KeyCaching: KeyCaching{
			Unstructured: true,
			Structured:   true,
			Encrypt:      false,
			TTL:          1800 * time.Second,
		},
	}
}

// fileEventReporting and fileConfiguration model the JSON configuration file
// format from spec §6. Unknown keys are ignored by encoding/json's default
// unmarshal behavior, so no extra work is required for that requirement.
type fileEventReporting struct {
	WakeIntervalS        *int    `json:"wake_interval"`
	MinimumCount         *int    `json:"minimum_count"`
	FlushIntervalS       *int    `json:"flush_interval"`
	TrapExceptions       *bool   `json:"trap_exceptions"`
	TimestampGranularity *string `json:"timestamp_granularity"`
	Synchronous          *bool   `json:"synchronous"`
}

type fileLogging struct {
	Verbose *bool `json:"verbose"`
}

type fileKeyCaching struct {
	Unstructured *bool `json:"unstructured"`
	Structured   *bool `json:"structured"`
	Encrypt      *bool `json:"encrypt"`
	TTLSeconds   *int  `json:"ttl_seconds"`
}

type fileConfiguration struct {
	EventReporting *fileEventReporting `json:"event_reporting"`
	Logging        *fileLogging        `json:"logging"`
	KeyCaching     *fileKeyCaching     `json:"key_caching"`
}

// LoadConfigurationFile reads the JSON configuration file at path, applying
// its values on top of DefaultConfiguration. A missing file is not an error:
// the defaults are used, matching the distilled source's
// load_config_file/FileNotFoundError behavior.
func LoadConfigurationFile(path string) (Configuration, error) {
	cfg := DefaultConfiguration()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	return MergeConfigurationJSON(cfg, data)
}

// MergeConfigurationJSON applies the JSON document in data onto base and
// returns the merged Configuration.
func MergeConfigurationJSON(base Configuration, data []byte) (Configuration, error) {
	var f fileConfiguration
	if err := json.Unmarshal(data, &f); err != nil {
		return base, err
	}
	cfg := base
	if f.EventReporting != nil {
		er := f.EventReporting
		if er.WakeIntervalS != nil {
			cfg.EventReporting.WakeInterval = time.Duration(*er.WakeIntervalS) * time.Second
		}
		if er.MinimumCount != nil {
			cfg.EventReporting.MinimumCount = *er.MinimumCount
		}
		if er.FlushIntervalS != nil {
			cfg.EventReporting.FlushInterval = time.Duration(*er.FlushIntervalS) * time.Second
		}
		if er.TrapExceptions != nil {
			cfg.EventReporting.TrapExceptions = *er.TrapExceptions
		}
		if er.TimestampGranularity != nil {
			cfg.EventReporting.TimestampGranularity = ParseGranularity(*er.TimestampGranularity)
		}
		if er.Synchronous != nil {
			cfg.EventReporting.Synchronous = *er.Synchronous
		}
	}
	if f.Logging != nil && f.Logging.Verbose != nil {
		cfg.Logging.Verbose = *f.Logging.Verbose
	}
	if f.KeyCaching != nil {
		kc := f.KeyCaching
		if kc.Unstructured != nil {
			cfg.KeyCaching.Unstructured = *kc.Unstructured
		}
		if kc.Structured != nil {
			cfg.KeyCaching.Structured = *kc.Structured
		}
		if kc.Encrypt != nil {
			cfg.KeyCaching.Encrypt = *kc.Encrypt
		}
		if kc.TTLSeconds != nil {
			cfg.KeyCaching.TTL = time.Duration(*kc.TTLSeconds) * time.Second
		}
	}
	return cfg, nil
}
