package ubiq

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubiqsecurity/ubiq-go/internal/cache"
	"github.com/ubiqsecurity/ubiq-go/internal/config"
	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
	"github.com/ubiqsecurity/ubiq-go/internal/metrics"
)

const maxUserDefinedMetadataLen = 1024

// Credentials is the lifetime handle for every operation in this module: it
// owns the KMS client, the dataset/key caches, and the background usage
// processor (spec §3). Create one with NewCredentials or
// NewCredentialsFromFile, use it for as many Encrypt/Decrypt calls as
// needed, and call Close when done so the background processor flushes its
// remaining events.
type Credentials struct {
	creds  config.Credentials
	config config.Configuration

	client *kmsclient.Client

	datasetCache *cache.Cache[kmsclient.Dataset]
	structKeys   *cache.Cache[kmsclient.UnwrappedKey]
	unstructKeys *cache.Cache[kmsclient.UnwrappedKey]

	agg   *events.Aggregator
	async *events.AsyncProcessor
	sync  *events.SyncProcessor

	mu     sync.Mutex
	closed bool
}

// NewCredentials builds a Credentials value directly from explicit fields,
// without consulting any credentials file. host may be empty to use
// config.DefaultHost.
func NewCredentials(accessID, signKey, cryptoAccessPassphrase, host string, cfg Configuration) (*Credentials, error) {
	creds := config.Credentials{
		AccessID: accessID, SignKey: signKey, CryptoAccessPassphrase: cryptoAccessPassphrase, Host: host,
	}.ApplyEnvOverrides()
	return newCredentials(creds, cfg.inner)
}

// NewCredentialsFromFile loads a credentials file (spec §6), applying the
// UBIQ_* credential environment variable overrides on top of it, and the
// configuration file named by configPath (or by UBIQ_CONFIGURATION_FILE_PATH
// when configPath is empty). path/profile may be empty to use the default
// credentials file location and "default" profile.
func NewCredentialsFromFile(path, profile, configPath string) (*Credentials, error) {
	creds, err := config.LoadCredentialsFile(path, profile)
	if err != nil {
		return nil, err
	}
	creds = creds.ApplyEnvOverrides()

	if configPath == "" {
		configPath = config.ConfigurationFileFromEnv()
	}
	cfg, err := config.LoadConfigurationFile(configPath)
	if err != nil {
		return nil, err
	}
	return newCredentials(creds, cfg)
}

func newCredentials(creds config.Credentials, cfg config.Configuration) (*Credentials, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	metrics.Init(prometheus.Labels{})

	if cfg.Logging.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	client := kmsclient.New(creds.Host, creds.AccessID, creds.SignKey, cfg.Logging.Verbose)

	agg := events.NewAggregator(client, toEventsGranularity(cfg.EventReporting.TimestampGranularity), cfg.Logging.Verbose, cfg.EventReporting.TrapExceptions)

	c := &Credentials{
		creds:  creds,
		config: cfg,
		client: client,
		agg:    agg,
	}

	if cfg.KeyCaching.Structured {
		dsCache, err := cache.New[kmsclient.Dataset](cfg.KeyCaching.TTL)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfigInvalid, "constructing dataset cache", err)
		}
		keyCache, err := cache.New[kmsclient.UnwrappedKey](cfg.KeyCaching.TTL)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfigInvalid, "constructing structured key cache", err)
		}
		c.datasetCache = dsCache
		c.structKeys = keyCache
	}
	if cfg.KeyCaching.Unstructured {
		keyCache, err := cache.New[kmsclient.UnwrappedKey](cfg.KeyCaching.TTL)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfigInvalid, "constructing unstructured key cache", err)
		}
		c.unstructKeys = keyCache
	}

	if cfg.EventReporting.Synchronous {
		c.sync = events.NewSyncProcessor(agg, cfg.EventReporting.FlushInterval, cfg.EventReporting.MinimumCount)
	} else {
		c.async = events.NewAsyncProcessor(agg, cfg.EventReporting.WakeInterval, cfg.EventReporting.FlushInterval, cfg.EventReporting.MinimumCount, cfg.Logging.Verbose)
		c.async.Start(context.Background())
	}

	return c, nil
}

// SetUserDefinedMetadata attaches blob to every usage event recorded from
// this point on (spec §4.6's SUPPLEMENTED FEATURES addition). blob must be
// valid JSON no longer than 1024 characters.
func (c *Credentials) SetUserDefinedMetadata(blob string) error {
	if len(blob) > maxUserDefinedMetadataLen {
		return errs.New(errs.KindConfigInvalid, "user-defined metadata exceeds 1024 characters")
	}
	if !json.Valid([]byte(blob)) {
		return errs.New(errs.KindConfigInvalid, "user-defined metadata is not valid JSON")
	}
	c.agg.SetUserDefinedMetadata(blob)
	return nil
}

// Close stops the background event processor (flushing any remaining
// events) and marks the credentials as released. Safe to call more than
// once; subsequent calls are no-ops.
func (c *Credentials) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.async != nil {
		c.async.Close()
		return nil
	}
	if c.sync != nil {
		return c.agg.Flush(context.Background())
	}
	return nil
}

// processEvent is called after every Encrypt/Decrypt operation: for the
// synchronous event-reporting mode, it triggers an immediate flush check
// (spec §4.6); for the asynchronous mode, the background processor already
// owns flushing, so this is a no-op.
func (c *Credentials) processEvent(ctx context.Context) {
	if c.sync != nil {
		if err := c.sync.ProcessNow(ctx); err != nil && !c.config.EventReporting.TrapExceptions {
			log.Warn("synchronous event flush failed", "err", err)
		}
	}
}
