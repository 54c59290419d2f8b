package structured

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // matching the production wrap/unwrap algorithm under test
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/cache"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

// fakeClient serves one dataset definition and a small set of data keys,
// each RSA-wrapped under its own keypair so fetchUnwrappedKey's call into
// the real kmsclient.UnwrapKey exercises production code end to end.
type fakeClient struct {
	dataset kmsclient.Dataset
	wrapped map[int]kmsclient.WrappedKey
	current int
}

func (f *fakeClient) FetchDataset(ctx context.Context, name string) (kmsclient.Dataset, error) {
	return f.dataset, nil
}

func (f *fakeClient) FetchKey(ctx context.Context, datasetName string, n int) (kmsclient.WrappedKey, error) {
	if n < 0 {
		n = f.current
	}
	return f.wrapped[n], nil
}

func (f *fakeClient) FetchAllKeys(ctx context.Context, datasetName string) ([]kmsclient.WrappedKey, error) {
	out := make([]kmsclient.WrappedKey, 0, len(f.wrapped))
	for _, w := range f.wrapped {
		out = append(out, w)
	}
	return out, nil
}

func newFakeCaches(t *testing.T) Caches {
	t.Helper()
	dsCache, err := cache.New[kmsclient.Dataset](time.Minute)
	require.NoError(t, err)
	keyCache, err := cache.New[kmsclient.UnwrappedKey](time.Minute)
	require.NoError(t, err)
	return Caches{Datasets: dsCache, Keys: keyCache}
}

const testPassphrase = "test passphrase"

func wrapDataKey(t *testing.T, keyNumber int, dataKey []byte) kmsclient.WrappedKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der := x509.MarshalPKCS1PrivateKey(priv)
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", der, []byte(testPassphrase), x509.PEMCipherAES256) //nolint:staticcheck
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(block)

	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, &priv.PublicKey, dataKey, nil) //nolint:gosec
	require.NoError(t, err)

	return kmsclient.WrappedKey{
		EncryptedPrivateKey: string(pemBytes),
		WrappedDataKey:      base64.StdEncoding.EncodeToString(wrapped),
		KeyNumber:           keyNumber,
		KeyFingerprint:      "fp",
	}
}

func testDataset() kmsclient.Dataset {
	return kmsclient.Dataset{
		Name:                "SSN",
		EncryptionAlgorithm: "FF1",
		InputCharacterSet:   "0123456789",
		OutputCharacterSet:  "0123456789abcdefghijklmnopqrstuvwxyz",
		Passthrough:         "-",
		Tweak:               base64.StdEncoding.EncodeToString([]byte{}),
		MSBEncodingBits:     4,
		MinInputLength:      6,
		MaxInputLength:      20,
	}
}

func TestEncryptDecryptSessionRoundTrip(t *testing.T) {
	dataKey := make([]byte, 16)
	_, err := rand.Read(dataKey)
	require.NoError(t, err)

	client := &fakeClient{
		dataset: testDataset(),
		wrapped: map[int]kmsclient.WrappedKey{0: wrapDataKey(t, 0, dataKey)},
	}
	caches := newFakeCaches(t)
	agg := events.NewAggregator(nil, events.Seconds, false, false)

	encSess, err := NewEncryptSession(context.Background(), client, caches, agg, "papi", testPassphrase, "SSN")
	require.NoError(t, err)

	ct, err := encSess.Encrypt("123-45-6789", nil)
	require.NoError(t, err)
	require.Len(t, ct, len("123-45-6789"))
	require.NotEqual(t, "123-45-6789", ct)

	decSess, err := NewDecryptSession(context.Background(), client, caches, agg, "papi", testPassphrase, "SSN")
	require.NoError(t, err)

	pt, err := decSess.Decrypt(context.Background(), ct, nil)
	require.NoError(t, err)
	require.Equal(t, "123-45-6789", pt)

	require.Equal(t, 2, agg.Count())
}

func TestEncryptForSearchReturnsOneCiphertextPerKey(t *testing.T) {
	dataKey0 := make([]byte, 16)
	dataKey1 := make([]byte, 16)
	_, err := rand.Read(dataKey0)
	require.NoError(t, err)
	_, err = rand.Read(dataKey1)
	require.NoError(t, err)

	client := &fakeClient{
		dataset: testDataset(),
		wrapped: map[int]kmsclient.WrappedKey{
			0: wrapDataKey(t, 0, dataKey0),
			1: wrapDataKey(t, 1, dataKey1),
		},
	}
	caches := newFakeCaches(t)
	agg := events.NewAggregator(nil, events.Seconds, false, false)

	encSess, err := NewEncryptSession(context.Background(), client, caches, agg, "papi", testPassphrase, "SSN")
	require.NoError(t, err)

	results, err := encSess.EncryptForSearch(context.Background(), "123-45-6789", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotEqual(t, results[0], results[1])
}
