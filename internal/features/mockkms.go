// Package features drives the concrete literal-value scenarios from
// spec.md §8 against an in-memory KMS double, in the style of
// chirino-memory-service/internal/bdd's godog wiring. Grounded on
// internal/structured/dataset_test.go and internal/unstructured/
// unstructured_test.go for how to fabricate RSA-wrapped key material
// without a real KMS.
package features

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // matches the production wrap/unwrap algorithm under test
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

const mockPassphrase = "features passphrase"

// mockKMS is a minimal stand-in for the real KMS: it serves one dataset
// definition and a small fixed set of RSA-wrapped data keys, and records
// every posted usage-tracking batch so scenario steps can assert on it.
type mockKMS struct {
	server *httptest.Server

	mu           sync.Mutex
	dataset      kmsclient.Dataset
	keys         map[int]kmsclient.WrappedKey
	currentKey   int
	postedEvents []map[string]any
	postBatches  int

	// encKeyRequests counts POST /encryption/key calls, for the "single
	// key issued and reused across Update calls" style assertions.
	encKeyRequests int
}

func newMockKMS() *mockKMS {
	m := &mockKMS{keys: make(map[int]kmsclient.WrappedKey)}
	m.server = httptest.NewServer(http.HandlerFunc(m.route))
	return m
}

func (m *mockKMS) URL() string { return m.server.URL }
func (m *mockKMS) Close()      { m.server.Close() }

func (m *mockKMS) setDataset(ds kmsclient.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset = ds
}

// addKey registers a data key at keyNumber, wrapping it under a freshly
// generated RSA keypair encrypted with mockPassphrase, exactly as
// internal/structured/dataset_test.go's wrapDataKey does.
func (m *mockKMS) addKey(keyNumber int, dataKey []byte) kmsclient.WrappedKey {
	wrapped := wrapDataKey(keyNumber, dataKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyNumber] = wrapped
	m.currentKey = keyNumber
	return wrapped
}

func (m *mockKMS) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.postedEvents {
		if c, ok := e["count"].(float64); ok {
			total += int(c)
		}
	}
	return total
}

func (m *mockKMS) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.postBatches
}

func wrapDataKey(keyNumber int, dataKey []byte) kmsclient.WrappedKey {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", der, []byte(mockPassphrase), x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		panic(err)
	}
	pemBytes := string(pem.EncodeToMemory(block))

	wrappedData, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, &priv.PublicKey, dataKey, nil) //nolint:gosec
	if err != nil {
		panic(err)
	}

	return kmsclient.WrappedKey{
		EncryptedPrivateKey: pemBytes,
		WrappedDataKey:      base64.StdEncoding.EncodeToString(wrappedData),
		EncryptedDataKey:    base64.StdEncoding.EncodeToString(wrappedData),
		KeyNumber:           keyNumber,
		KeyFingerprint:      fmt.Sprintf("fp-%d", keyNumber),
		EncryptionSession:   fmt.Sprintf("sess-%d", keyNumber),
		MaxUses:             1_000_000,
	}
}

func (m *mockKMS) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v0/ffs":
		m.mu.Lock()
		ds := m.dataset
		m.mu.Unlock()
		writeJSON(w, ds)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v0/fpe/key":
		m.mu.Lock()
		n := m.currentKey
		if v := r.URL.Query().Get("key_number"); v != "" {
			n, _ = strconv.Atoi(v)
		}
		key := m.keys[n]
		m.mu.Unlock()
		writeJSON(w, key)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v0/fpe/def_keys":
		m.mu.Lock()
		name := m.dataset.Name
		out := struct {
			EncryptedPrivateKey string   `json:"encrypted_private_key"`
			Keys                []string `json:"keys"`
		}{}
		for i := 0; i < len(m.keys); i++ {
			k := m.keys[i]
			out.EncryptedPrivateKey = k.EncryptedPrivateKey
			out.Keys = append(out.Keys, k.WrappedDataKey)
		}
		m.mu.Unlock()
		writeJSON(w, map[string]any{name: out})

	case r.Method == http.MethodPost && r.URL.Path == "/api/v0/encryption/key":
		m.mu.Lock()
		m.encKeyRequests++
		key, ok := m.keys[0]
		m.mu.Unlock()
		if !ok {
			http.Error(w, "no key registered", http.StatusNotFound)
			return
		}
		writeJSON(w, key)

	case r.Method == http.MethodPost && r.URL.Path == "/api/v0/decryption/key":
		m.mu.Lock()
		key, ok := m.keys[0]
		m.mu.Unlock()
		if !ok {
			http.Error(w, "no key registered", http.StatusNotFound)
			return
		}
		writeJSON(w, key)

	case r.Method == http.MethodPatch:
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && r.URL.Path == "/api/v3/tracking/events":
		var body struct {
			Usage []map[string]any `json:"usage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.postedEvents = append(m.postedEvents, body.Usage...)
		m.postBatches++
		m.mu.Unlock()
		w.WriteHeader(http.StatusCreated)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
