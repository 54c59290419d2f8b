package ubiq

import (
	"context"

	"github.com/ubiqsecurity/ubiq-go/internal/unstructured"
)

// DecryptSession reverses EncryptSession over one or more messages, reusing
// a resolved data key across consecutive messages that share a client_id
// (spec §4.4).
type DecryptSession struct {
	creds *Credentials
	inner *unstructured.DecryptSession
}

// NewDecryptSession builds a session ready to accept Begin/Update/End calls,
// reusable across many decrypt operations.
func (c *Credentials) NewDecryptSession() *DecryptSession {
	inner := unstructured.NewDecryptSession(c.client, c.unstructKeys, c.config.KeyCaching.Encrypt, c.agg, c.creds.AccessID, c.creds.CryptoAccessPassphrase)
	return &DecryptSession{creds: c, inner: inner}
}

// Begin starts one decryption.
func (s *DecryptSession) Begin() error {
	return s.inner.Begin()
}

// Update feeds the next chunk of the ciphertext stream. No plaintext is
// available until End, since AES-GCM has no incremental open.
func (s *DecryptSession) Update(ctx context.Context, chunk []byte) ([]byte, error) {
	return s.inner.Update(ctx, chunk)
}

// End verifies the AEAD tag over everything buffered since Begin and returns
// the plaintext.
func (s *DecryptSession) End() ([]byte, error) {
	pt, err := s.inner.End()
	if err == nil {
		s.creds.processEvent(context.Background())
	}
	return pt, err
}

// Decrypt is the whole-buffer convenience form of Begin/Update/End.
func (s *DecryptSession) Decrypt(ctx context.Context, ct []byte) ([]byte, error) {
	pt, err := s.inner.Decrypt(ctx, ct)
	if err == nil {
		s.creds.processEvent(ctx)
	}
	return pt, err
}

// Close releases the session.
func (s *DecryptSession) Close() {
	s.inner.Close()
}

// Decrypt performs a single unstructured decryption, resolving whichever
// data key the ciphertext's header names (spec §4.4's simple decrypt()).
func Decrypt(ctx context.Context, creds *Credentials, ct []byte) ([]byte, error) {
	sess := creds.NewDecryptSession()
	defer sess.Close()
	return sess.Decrypt(ctx, ct)
}
