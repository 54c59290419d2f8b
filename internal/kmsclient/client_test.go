package kmsclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*kmsclient.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := kmsclient.New(srv.URL, "test-access-id", "test-sign-key", false)
	return c, srv
}

func TestFetchEncryptionKeySignsAndParses(t *testing.T) {
	var gotAuth, gotDigest string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Signature")
		gotDigest = r.Header.Get("Digest")
		require.Equal(t, "/api/v0/encryption/key", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"encrypted_private_key": "pem",
			"wrapped_data_key":      "d2Fzbw==",
			"key_fingerprint":       "fp1",
			"encryption_session":    "sess1",
			"max_uses":              10,
		})
	})

	key, err := c.FetchEncryptionKey(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, "fp1", key.KeyFingerprint)
	require.Equal(t, "sess1", key.EncryptionSession)
	require.Equal(t, 10, key.MaxUses)
	require.NotEmpty(t, gotAuth)
	require.Contains(t, gotAuth, "keyId=\"test-access-id\"")
	require.NotEmpty(t, gotDigest)
}

func TestFetchDatasetParsesPassthroughRules(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "SSN", r.URL.Query().Get("ffs_name"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":                  "SSN",
			"encryption_algorithm":  "FF1",
			"input_character_set":   "0123456789",
			"output_character_set":  "0123456789",
			"passthrough":           "-",
			"passthrough_rules": []map[string]any{
				{"type": "passthrough", "value": "-", "priority": 1},
				{"type": "prefix", "value": 0, "priority": 2},
			},
		})
	})

	ds, err := c.FetchDataset(context.Background(), "SSN")
	require.NoError(t, err)
	require.Equal(t, "SSN", ds.Name)
	require.Len(t, ds.PassthroughRules, 2)
	require.False(t, ds.PassthroughRules[0].Value.IsInt)
	require.Equal(t, "-", ds.PassthroughRules[0].Value.Str)
	require.True(t, ds.PassthroughRules[1].Value.IsInt)
	require.Equal(t, 0, ds.PassthroughRules[1].Value.AsInt())
}

func TestFetchAllKeysExpandsKeyNumbers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"SSN": map[string]any{
				"encrypted_private_key": "pem",
				"keys":                  []string{"k0", "k1", "k2"},
			},
		})
	})

	keys, err := c.FetchAllKeys(context.Background(), "SSN")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for i, k := range keys {
		require.Equal(t, i, k.KeyNumber)
		require.Equal(t, "pem", k.EncryptedPrivateKey)
	}
}

func TestNon2xxBecomesTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "bad signature"})
	})

	_, err := c.FetchEncryptionKey(context.Background(), 1)
	require.Error(t, err)
	var kerr *errs.Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, errs.KindAuthentication, kerr.Kind)
	require.Equal(t, "bad signature", kerr.Reason)
}

func TestPostEventsUsesV3Path(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	})

	err := c.PostEvents(context.Background(), []map[string]any{{"count": 1}})
	require.NoError(t, err)
	require.Equal(t, "/api/v3/tracking/events", gotPath)
}
