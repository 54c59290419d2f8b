// Package kmsclient implements the REST client for the KMS endpoints listed
// in spec §4.3, signing every request with internal/signer and surfacing
// non-2xx responses as errs.KindTransport (errs.KindAuthentication for 401).
package kmsclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/metrics"
	"github.com/ubiqsecurity/ubiq-go/internal/signer"
)

// Client talks to one KMS host on behalf of one set of credentials.
type Client struct {
	HTTPClient *http.Client
	Host       string
	AccessID   string
	SignKey    string
	Verbose    bool
}

func New(host, accessID, signKey string, verbose bool) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Host:       host,
		AccessID:   accessID,
		SignKey:    signKey,
		Verbose:    verbose,
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.Host + "/api/v0/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindTransport, "building request", err)
	}
	signer.Sign(req, c.AccessID, c.SignKey, body, time.Now())

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if metrics.KMSRequestsTotal != nil {
			metrics.KMSRequestsTotal.WithLabelValues(rawURL, "error").Inc()
		}
		return nil, 0, errs.Wrap(errs.KindTransport, "KMS request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errs.Wrap(errs.KindTransport, "reading KMS response body", err)
	}

	if c.Verbose {
		log.Debug("KMS request", "method", method, "url", rawURL, "status", resp.StatusCode, "duration", time.Since(start))
	}
	if metrics.KMSRequestsTotal != nil {
		metrics.KMSRequestsTotal.WithLabelValues(rawURL, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := http.StatusText(resp.StatusCode)
		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Message != "" {
			reason = errBody.Message
		}
		return nil, resp.StatusCode, errs.Transport(rawURL, resp.StatusCode, reason, string(respBody))
	}
	return respBody, resp.StatusCode, nil
}

// FetchDecryptKey posts the wrapped data key from an unstructured ciphertext
// header and returns the KMS's decryption key bundle.
func (c *Client) FetchDecryptKey(ctx context.Context, wrappedKey []byte) (WrappedKey, error) {
	body, err := json.Marshal(map[string]string{
		"encrypted_data_key": base64.StdEncoding.EncodeToString(wrappedKey),
	})
	if err != nil {
		return WrappedKey{}, errs.Wrap(errs.KindTransport, "encoding request", err)
	}
	data, _, err := c.do(ctx, http.MethodPost, c.endpoint("decryption/key", nil), body)
	if err != nil {
		return WrappedKey{}, err
	}
	var key WrappedKey
	if err := json.Unmarshal(data, &key); err != nil {
		return WrappedKey{}, errs.Wrap(errs.KindCrypto, "parsing decryption/key response", err)
	}
	return key, nil
}

// FetchEncryptionKey requests a new data key usable for up to uses
// encryptions (the server may lower the cap in the returned MaxUses).
func (c *Client) FetchEncryptionKey(ctx context.Context, uses int) (WrappedKey, error) {
	body, err := json.Marshal(map[string]int{"uses": uses})
	if err != nil {
		return WrappedKey{}, errs.Wrap(errs.KindTransport, "encoding request", err)
	}
	data, _, err := c.do(ctx, http.MethodPost, c.endpoint("encryption/key", nil), body)
	if err != nil {
		return WrappedKey{}, err
	}
	var key WrappedKey
	if err := json.Unmarshal(data, &key); err != nil {
		return WrappedKey{}, errs.Wrap(errs.KindCrypto, "parsing encryption/key response", err)
	}
	return key, nil
}

// PatchEncryptionKeyUses is the best-effort PATCH sent when an encrypt
// session is closed with unused uses remaining (spec §4.4). Errors are
// returned so the caller can decide to swallow them (spec §5's
// "destructor does network I/O" note requires an explicit Close, not a
// silent finalizer).
func (c *Client) PatchEncryptionKeyUses(ctx context.Context, fingerprint, session string, requested, actual int) error {
	body, err := json.Marshal(map[string]int{"requested": requested, "actual": actual})
	if err != nil {
		return err
	}
	rawURL := c.endpoint(fmt.Sprintf("encryption/key/%s/%s", fingerprint, session), nil)
	_, _, err = c.do(ctx, http.MethodPatch, rawURL, body)
	return err
}

// PatchDecryptionKeyUses sends uses to decryption/key/<fingerprint>/<session>
// as a PATCH. No session in this module calls it: unstructured
// DecryptSession.Close makes no network call.
func (c *Client) PatchDecryptionKeyUses(ctx context.Context, fingerprint, session string, uses int) error {
	body, err := json.Marshal(map[string]int{"uses": uses})
	if err != nil {
		return err
	}
	rawURL := c.endpoint(fmt.Sprintf("decryption/key/%s/%s", fingerprint, session), nil)
	_, _, err = c.do(ctx, http.MethodPatch, rawURL, body)
	return err
}

// FetchDataset retrieves the FPE dataset definition for name.
func (c *Client) FetchDataset(ctx context.Context, name string) (Dataset, error) {
	q := url.Values{"ffs_name": {name}, "papi": {c.AccessID}}
	data, _, err := c.do(ctx, http.MethodGet, c.endpoint("ffs", q), nil)
	if err != nil {
		return Dataset{}, err
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return Dataset{}, errs.Wrap(errs.KindCrypto, "parsing ffs response", err)
	}
	return ds, nil
}

// FetchKey retrieves the wrapped key for dataset name at key number n. Pass
// n < 0 to request the current key.
func (c *Client) FetchKey(ctx context.Context, datasetName string, n int) (WrappedKey, error) {
	q := url.Values{"ffs_name": {datasetName}, "papi": {c.AccessID}}
	if n >= 0 {
		q.Set("key_number", strconv.Itoa(n))
	}
	data, _, err := c.do(ctx, http.MethodGet, c.endpoint("fpe/key", q), nil)
	if err != nil {
		return WrappedKey{}, err
	}
	var key WrappedKey
	if err := json.Unmarshal(data, &key); err != nil {
		return WrappedKey{}, errs.Wrap(errs.KindCrypto, "parsing fpe/key response", err)
	}
	return key, nil
}

// FetchAllKeys retrieves every wrapped key for dataset name, used by
// encrypt-for-search (spec §4.5).
func (c *Client) FetchAllKeys(ctx context.Context, datasetName string) ([]WrappedKey, error) {
	q := url.Values{"ffs_name": {datasetName}, "papi": {c.AccessID}}
	data, _, err := c.do(ctx, http.MethodGet, c.endpoint("fpe/def_keys", q), nil)
	if err != nil {
		return nil, err
	}
	var resp allKeysResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "parsing fpe/def_keys response", err)
	}
	entry, ok := resp[datasetName]
	if !ok {
		return nil, errs.New(errs.KindCrypto, "fpe/def_keys response missing dataset "+datasetName)
	}
	keys := make([]WrappedKey, len(entry.Keys))
	for i, wrapped := range entry.Keys {
		keys[i] = WrappedKey{
			EncryptedPrivateKey: entry.EncryptedPrivateKey,
			WrappedDataKey:      wrapped,
			KeyNumber:           i,
		}
	}
	return keys, nil
}

// PostEvents submits a batch of serialized usage events to the V3 tracking
// endpoint (spec §4.6).
func (c *Client) PostEvents(ctx context.Context, events []map[string]any) error {
	body, err := json.Marshal(map[string]any{"usage": events})
	if err != nil {
		return errs.Wrap(errs.KindTransport, "encoding usage events", err)
	}
	_, _, err = c.do(ctx, http.MethodPost, c.Host+"/api/v3/tracking/events", body)
	return err
}
