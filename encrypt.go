package ubiq

import (
	"context"

	"github.com/ubiqsecurity/ubiq-go/internal/unstructured"
)

// EncryptSession performs one or more unstructured encryptions against a
// single KMS-issued data key (spec §4.4). Create one with
// Credentials.NewEncryptSession when encrypting more than one buffer with
// the same key is worthwhile; otherwise use the one-shot Encrypt function.
type EncryptSession struct {
	creds *Credentials
	inner *unstructured.EncryptSession
}

// NewEncryptSession requests a data key usable for up to uses encryptions.
// aad, when set, authenticates the wire header as additional data on every
// message sealed by this session (spec §4.4).
func (c *Credentials) NewEncryptSession(ctx context.Context, uses int, aad bool) (*EncryptSession, error) {
	inner, err := unstructured.NewEncryptSession(ctx, c.client, c.agg, c.creds.AccessID, c.creds.CryptoAccessPassphrase, uses, aad)
	if err != nil {
		return nil, err
	}
	return &EncryptSession{creds: c, inner: inner}, nil
}

// Begin starts one encryption, returning the wire header to prepend to the
// ciphertext.
func (s *EncryptSession) Begin() ([]byte, error) {
	return s.inner.Begin()
}

// Update buffers a chunk of plaintext. No ciphertext is available until End,
// since AES-GCM has no incremental seal.
func (s *EncryptSession) Update(pt []byte) []byte {
	return s.inner.Update(pt)
}

// End finalizes the encryption in progress, returning ciphertext||tag.
func (s *EncryptSession) End() []byte {
	ct := s.inner.End()
	s.creds.processEvent(context.Background())
	return ct
}

// Encrypt is the whole-buffer convenience form of Begin/Update/End.
func (s *EncryptSession) Encrypt(pt []byte) ([]byte, error) {
	out, err := s.inner.Encrypt(pt)
	s.creds.processEvent(context.Background())
	return out, err
}

// Close releases the session, best-effort reporting any unused key uses.
func (s *EncryptSession) Close(ctx context.Context) {
	s.inner.Close(ctx)
}

// Encrypt performs a single unstructured encryption using a data key fetched
// for this one call (spec §4.4's simple encrypt()). aad authenticates the
// wire header.
func Encrypt(ctx context.Context, creds *Credentials, pt []byte, aad bool) ([]byte, error) {
	sess, err := creds.NewEncryptSession(ctx, 1, aad)
	if err != nil {
		return nil, err
	}
	defer sess.Close(ctx)
	return sess.Encrypt(pt)
}
