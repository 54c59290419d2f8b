package signer_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/signer"
)

func newRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://api.ubiqsecurity.com/api/v0/decryption/key?x=1", strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func TestSignSetsHeaders(t *testing.T) {
	req := newRequest(t, `{"a":1}`)
	now := time.Unix(1700000000, 0)

	signer.Sign(req, "access-id", "sign-key", []byte(`{"a":1}`), now)

	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "api.ubiqsecurity.com", req.Header.Get("Host"))
	require.NotEmpty(t, req.Header.Get("Date"))
	require.True(t, strings.HasPrefix(req.Header.Get("Digest"), "SHA-512="))

	sig := req.Header.Get("Signature")
	require.Contains(t, sig, `keyId="access-id"`)
	require.Contains(t, sig, `algorithm="hmac-sha512"`)
	require.Contains(t, sig, "created=1700000000")
	require.Contains(t, sig, `headers="(created) (request-target) content-length content-type date digest host"`)
}

func TestSignIsDeterministic(t *testing.T) {
	now := time.Unix(1700000000, 0)

	req1 := newRequest(t, `{"a":1}`)
	signer.Sign(req1, "access-id", "sign-key", []byte(`{"a":1}`), now)

	req2 := newRequest(t, `{"a":1}`)
	signer.Sign(req2, "access-id", "sign-key", []byte(`{"a":1}`), now)

	require.Equal(t, req1.Header.Get("Signature"), req2.Header.Get("Signature"))
}

func TestSignChangesWithBody(t *testing.T) {
	now := time.Unix(1700000000, 0)

	req1 := newRequest(t, `{"a":1}`)
	signer.Sign(req1, "access-id", "sign-key", []byte(`{"a":1}`), now)

	req2 := newRequest(t, `{"a":2}`)
	signer.Sign(req2, "access-id", "sign-key", []byte(`{"a":2}`), now)

	require.NotEqual(t, req1.Header.Get("Signature"), req2.Header.Get("Signature"))
	require.NotEqual(t, req1.Header.Get("Digest"), req2.Header.Get("Digest"))
}

func TestSignOmitsDefaultPort(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.ubiqsecurity.com:443/api/v0/ffs", nil)
	require.NoError(t, err)
	signer.Sign(req, "id", "key", nil, time.Unix(0, 0))
	require.Equal(t, "api.ubiqsecurity.com", req.Header.Get("Host"))
}

func TestSignKeepsNonDefaultPort(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.ubiqsecurity.com:8443/api/v0/ffs", nil)
	require.NoError(t, err)
	signer.Sign(req, "id", "key", nil, time.Unix(0, 0))
	require.Equal(t, "api.ubiqsecurity.com:8443", req.Header.Get("Host"))
}
