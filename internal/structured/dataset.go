package structured

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/ubiqsecurity/ubiq-go/internal/cache"
	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
	"github.com/ubiqsecurity/ubiq-go/internal/structured/ff1"
)

// Client is the subset of kmsclient.Client the structured package needs,
// narrowed so it can be faked in tests without an HTTP server.
type Client interface {
	FetchDataset(ctx context.Context, name string) (kmsclient.Dataset, error)
	FetchKey(ctx context.Context, datasetName string, n int) (kmsclient.WrappedKey, error)
	FetchAllKeys(ctx context.Context, datasetName string) ([]kmsclient.WrappedKey, error)
}

// Caches groups the two TTL caches a session consults, letting the caller
// share one pair of caches across many sessions against the same
// credentials (spec §4.2).
type Caches struct {
	Datasets *cache.Cache[kmsclient.Dataset]
	Keys     *cache.Cache[kmsclient.UnwrappedKey]

	// EncryptAtRest implements key_caching.encrypt (spec §4.2): when set,
	// the cache entry never carries UnwrappedDataKey, and every retrieval
	// (cache hit or miss) re-runs the RSA unwrap against the stored wrapped
	// key material.
	EncryptAtRest bool
}

func datasetCacheKey(papi, name string) string { return papi + "|" + name }
func keyCacheKey(papi, name string, n int) string {
	if n < 0 {
		return fmt.Sprintf("%s|%s|current", papi, name)
	}
	return fmt.Sprintf("%s|%s|%d", papi, name, n)
}

func fetchDataset(ctx context.Context, client Client, caches Caches, papi, name string) (kmsclient.Dataset, error) {
	if ds, ok := caches.Datasets.Get(datasetCacheKey(papi, name)); ok {
		return ds, nil
	}
	ds, err := client.FetchDataset(ctx, name)
	if err != nil {
		return kmsclient.Dataset{}, err
	}
	caches.Datasets.Set(datasetCacheKey(papi, name), ds)
	return ds, nil
}

func fetchUnwrappedKey(ctx context.Context, client Client, caches Caches, papi, passphrase, name string, n int) (kmsclient.UnwrappedKey, error) {
	if uk, ok := caches.Keys.Get(keyCacheKey(papi, name, n)); ok {
		if caches.EncryptAtRest {
			return kmsclient.UnwrapKey(uk.WrappedKey, passphrase)
		}
		return uk, nil
	}
	wrapped, err := client.FetchKey(ctx, name, n)
	if err != nil {
		return kmsclient.UnwrappedKey{}, err
	}
	uk, err := kmsclient.UnwrapKey(wrapped, passphrase)
	if err != nil {
		return kmsclient.UnwrappedKey{}, err
	}
	stored := uk
	if caches.EncryptAtRest {
		// spec §4.2: the cache copy never contains unwrapped_data_key.
		stored = kmsclient.UnwrappedKey{WrappedKey: wrapped}
	}
	caches.Keys.Set(keyCacheKey(papi, name, n), stored)
	caches.Keys.Set(keyCacheKey(papi, name, uk.KeyNumber), stored)
	return uk, nil
}

func ff1ContextFor(ds kmsclient.Dataset, dataKey []byte) (*ff1.Context, error) {
	if ds.EncryptionAlgorithm != "FF1" {
		return nil, errs.New(errs.KindUnsupportedAlgo, "unsupported algorithm: "+ds.EncryptionAlgorithm)
	}
	tweak, err := base64.StdEncoding.DecodeString(ds.Tweak)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "decoding dataset tweak", err)
	}
	return ff1.NewContext(dataKey, tweak, ds.TweakMinLen, ds.TweakMaxLen, len(ds.InputCharacterSet), ds.InputCharacterSet)
}

// EncryptSession encrypts plaintext values against one dataset, reusing its
// fetched dataset definition, current key and FF1 context across calls.
type EncryptSession struct {
	client   Client
	caches   Caches
	events   *events.Aggregator
	papi     string
	passphrase string

	dataset kmsclient.Dataset
	key     kmsclient.UnwrappedKey
	algo    *ff1.Context
}

// NewEncryptSession fetches datasetName's definition and current key and
// constructs the FF1 context used for every Encrypt/EncryptForSearch call
// on the returned session.
func NewEncryptSession(ctx context.Context, client Client, caches Caches, agg *events.Aggregator, papi, passphrase, datasetName string) (*EncryptSession, error) {
	ds, err := fetchDataset(ctx, client, caches, papi, datasetName)
	if err != nil {
		return nil, err
	}
	key, err := fetchUnwrappedKey(ctx, client, caches, papi, passphrase, datasetName, -1)
	if err != nil {
		return nil, err
	}
	algo, err := ff1ContextFor(ds, key.UnwrappedDataKey)
	if err != nil {
		return nil, err
	}
	return &EncryptSession{
		client: client, caches: caches, events: agg,
		papi: papi, passphrase: passphrase,
		dataset: ds, key: key, algo: algo,
	}, nil
}

// Encrypt format-preserving-encrypts pt under the session's dataset,
// optionally overriding the dataset's default tweak for this call.
func (s *EncryptSession) Encrypt(pt string, tweak []byte) (string, error) {
	fmtStr, trimmed, rules, err := fmtInput(pt, s.dataset.Passthrough, s.dataset.InputCharacterSet, s.dataset.OutputCharacterSet, s.dataset.PassthroughRules)
	if err != nil {
		return "", err
	}

	if n := len(trimmed); n < s.dataset.MinInputLength || n > s.dataset.MaxInputLength {
		return "", errs.New(errs.KindInvalidLength, fmt.Sprintf("invalid input length (%d) min: %d max: %d", n, s.dataset.MinInputLength, s.dataset.MaxInputLength))
	}

	ct, err := s.algo.Encrypt(trimmed, tweak)
	if err != nil {
		return "", err
	}
	ct = strConvertRadix(ct, s.dataset.InputCharacterSet, s.dataset.OutputCharacterSet)
	ct = encKeyNumber(ct, s.dataset.OutputCharacterSet, s.key.KeyNumber, s.dataset.MSBEncodingBits)

	if s.events != nil {
		s.events.AddEvent(s.papi, s.dataset.Name, "", "encrypt", "structured", s.key.KeyNumber, 1)
	}

	return fmtOutput(fmtStr, ct, rules)
}

// EncryptForSearch returns one ciphertext per key ever issued for the
// dataset, so a caller can search existing ciphertext columns regardless of
// which key originally produced them (spec §4.5).
func (s *EncryptSession) EncryptForSearch(ctx context.Context, pt string, tweak []byte) ([]string, error) {
	keys, err := s.client.FetchAllKeys(ctx, s.dataset.Name)
	if err != nil {
		return nil, err
	}

	fmtStr, trimmed, rules, err := fmtInput(pt, s.dataset.Passthrough, s.dataset.InputCharacterSet, s.dataset.OutputCharacterSet, s.dataset.PassthroughRules)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(keys))
	for _, wrapped := range keys {
		uk, err := kmsclient.UnwrapKey(wrapped, s.passphrase)
		if err != nil {
			return nil, err
		}
		algo, err := ff1ContextFor(s.dataset, uk.UnwrappedDataKey)
		if err != nil {
			return nil, err
		}
		ct, err := algo.Encrypt(trimmed, tweak)
		if err != nil {
			return nil, err
		}
		ct = strConvertRadix(ct, s.dataset.InputCharacterSet, s.dataset.OutputCharacterSet)
		ct = encKeyNumber(ct, s.dataset.OutputCharacterSet, uk.KeyNumber, s.dataset.MSBEncodingBits)
		result, err := fmtOutput(fmtStr, ct, rules)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// Close is a documented no-op retained for API symmetry with
// unstructured.DecryptSession; structured sessions hold no network
// resources that outlive a call.
func (s *EncryptSession) Close() {}

// DecryptSession decrypts ciphertext values against one dataset, refetching
// and re-deriving the FF1 context only when the embedded key number changes
// between calls.
type DecryptSession struct {
	client     Client
	caches     Caches
	events     *events.Aggregator
	papi       string
	passphrase string

	dataset kmsclient.Dataset
	key     kmsclient.UnwrappedKey
	algo    *ff1.Context
}

// NewDecryptSession fetches datasetName's definition; the key needed to
// decrypt a given ciphertext is not known until Decrypt inspects its
// embedded key number, so no key is fetched up front.
func NewDecryptSession(ctx context.Context, client Client, caches Caches, agg *events.Aggregator, papi, passphrase, datasetName string) (*DecryptSession, error) {
	ds, err := fetchDataset(ctx, client, caches, papi, datasetName)
	if err != nil {
		return nil, err
	}
	return &DecryptSession{
		client: client, caches: caches, events: agg,
		papi: papi, passphrase: passphrase,
		dataset: ds,
	}, nil
}

// Decrypt reverses Encrypt, refreshing the session's key/FF1 context if ct
// was produced with a different key number than the last call.
func (s *DecryptSession) Decrypt(ctx context.Context, ct string, tweak []byte) (string, error) {
	fmtStr, trimmed, rules, err := fmtInput(ct, s.dataset.Passthrough, s.dataset.OutputCharacterSet, s.dataset.InputCharacterSet, s.dataset.PassthroughRules)
	if err != nil {
		return "", err
	}

	if n := len(trimmed); n < s.dataset.MinInputLength || n > s.dataset.MaxInputLength {
		return "", errs.New(errs.KindInvalidLength, fmt.Sprintf("invalid input length (%d) min: %d max: %d", n, s.dataset.MinInputLength, s.dataset.MaxInputLength))
	}

	trimmed, n := decKeyNumber(trimmed, s.dataset.OutputCharacterSet, s.dataset.MSBEncodingBits)

	if s.algo == nil || s.key.KeyNumber != n {
		key, err := fetchUnwrappedKey(ctx, s.client, s.caches, s.papi, s.passphrase, s.dataset.Name, n)
		if err != nil {
			return "", err
		}
		algo, err := ff1ContextFor(s.dataset, key.UnwrappedDataKey)
		if err != nil {
			return "", err
		}
		s.key = key
		s.algo = algo
	}

	trimmed = strConvertRadix(trimmed, s.dataset.OutputCharacterSet, s.dataset.InputCharacterSet)

	pt, err := s.algo.Decrypt(trimmed, tweak)
	if err != nil {
		return "", err
	}

	if s.events != nil {
		s.events.AddEvent(s.papi, s.dataset.Name, "", "decrypt", "structured", n, 1)
	}

	return fmtOutput(fmtStr, pt, rules)
}

// Close is a documented no-op; see EncryptSession.Close.
func (s *DecryptSession) Close() {}
