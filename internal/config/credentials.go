package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"gopkg.in/ini.v1"
)

// Credentials holds the fields needed to sign and route every KMS request
// (spec §3, §6). It carries no business logic; Configuration and the event
// aggregator are owned one layer up, by the public Credentials type.
type Credentials struct {
	AccessID                string
	SignKey                 string
	CryptoAccessPassphrase  string
	Host                    string
}

// DefaultCredentialsPath returns ~/.ubiq/credentials, the default location
// consulted by LoadCredentialsFile when no explicit path is given.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ubiq", "credentials")
}

// LoadCredentialsFile parses the INI credential file at path using the given
// profile, falling back to the [default] section for any key the profile
// does not override (spec §6). A missing file, at the default path or an
// explicit one, is not an error; it returns zero-value Credentials so that
// env-var overrides and explicit arguments still have a chance to populate
// values.
func LoadCredentialsFile(path, profile string) (Credentials, error) {
	var creds Credentials
	if path == "" {
		path = DefaultCredentialsPath()
	}
	if profile == "" {
		profile = "default"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return creds, nil
		}
		return creds, errs.Wrap(errs.KindConfigInvalid, "reading credentials file", err)
	}

	f, err := ini.Load(path)
	if err != nil {
		return creds, errs.Wrap(errs.KindConfigInvalid, "parsing credentials file", err)
	}

	def := f.Section("default")
	sec := f.Section(profile)

	lookup := func(key string) string {
		if v := sec.Key(key).String(); v != "" {
			return v
		}
		return def.Key(key).String()
	}

	creds.AccessID = lookup("access_key_id")
	creds.SignKey = lookup("secret_signing_key")
	creds.CryptoAccessPassphrase = lookup("secret_crypto_access_key")
	creds.Host = normalizeHost(lookup("SERVER"))
	return creds, nil
}

// ApplyEnvOverrides overrides any Credentials field with the corresponding
// UBIQ_* environment variable, when set (spec §6).
func (c Credentials) ApplyEnvOverrides() Credentials {
	if v := os.Getenv("UBIQ_ACCESS_KEY_ID"); v != "" {
		c.AccessID = v
	}
	if v := os.Getenv("UBIQ_SECRET_SIGNING_KEY"); v != "" {
		c.SignKey = v
	}
	if v := os.Getenv("UBIQ_SECRET_CRYPTO_ACCESS_KEY"); v != "" {
		c.CryptoAccessPassphrase = v
	}
	if v := os.Getenv("UBIQ_SERVER"); v != "" {
		c.Host = normalizeHost(v)
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	return c
}

// ConfigurationFileFromEnv returns UBIQ_CONFIGURATION_FILE_PATH, or "" when
// unset.
func ConfigurationFileFromEnv() string {
	return os.Getenv("UBIQ_CONFIGURATION_FILE_PATH")
}

func normalizeHost(host string) string {
	if host == "" {
		return ""
	}
	if !strings.Contains(host, "://") {
		return "https://" + host
	}
	return host
}

// Validate reports a credentials-missing error when any required field is
// empty (mirrors credentialsInfo.set() in the distilled source).
func (c Credentials) Validate() error {
	if c.AccessID == "" || c.SignKey == "" || c.CryptoAccessPassphrase == "" {
		return errs.New(errs.KindCredentialsMissing, "access_key_id, secret_signing_key and secret_crypto_access_key are required")
	}
	return nil
}
