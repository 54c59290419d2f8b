package ubiq

import (
	"context"

	"github.com/ubiqsecurity/ubiq-go/internal/structured"
)

// tweakOptions collects the options a structured call can take; currently
// only a per-call tweak override (spec §12's WithTweak), kept as a struct so
// more options can be added without changing call sites.
type tweakOptions struct {
	tweak []byte
}

// TweakOption configures a single structured Encrypt/Decrypt/EncryptForSearch
// call.
type TweakOption func(*tweakOptions)

// WithTweak overrides the dataset's configured tweak for a single call
// (spec §12). Pass nil (or omit this option) to use the dataset's own tweak.
func WithTweak(tweak []byte) TweakOption {
	return func(o *tweakOptions) { o.tweak = tweak }
}

func applyTweakOptions(opts []TweakOption) []byte {
	var o tweakOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.tweak
}

func (c *Credentials) structuredCaches() structured.Caches {
	return structured.Caches{
		Datasets:      c.datasetCache,
		Keys:          c.structKeys,
		EncryptAtRest: c.config.KeyCaching.Encrypt,
	}
}

// StructuredEncryptSession performs one or more format-preserving
// encryptions against a single dataset (spec §4.5).
type StructuredEncryptSession struct {
	creds *Credentials
	inner *structured.EncryptSession
}

// NewStructuredEncryptSession fetches dataset and key material for
// datasetName, ready for repeated Encrypt/EncryptForSearch calls.
func (c *Credentials) NewStructuredEncryptSession(ctx context.Context, datasetName string) (*StructuredEncryptSession, error) {
	inner, err := structured.NewEncryptSession(ctx, c.client, c.structuredCaches(), c.agg, c.creds.AccessID, c.creds.CryptoAccessPassphrase, datasetName)
	if err != nil {
		return nil, err
	}
	return &StructuredEncryptSession{creds: c, inner: inner}, nil
}

// Encrypt format-preserving-encrypts pt under the session's dataset.
func (s *StructuredEncryptSession) Encrypt(pt string, opts ...TweakOption) (string, error) {
	ct, err := s.inner.Encrypt(pt, applyTweakOptions(opts))
	if err == nil {
		s.creds.processEvent(context.Background())
	}
	return ct, err
}

// EncryptForSearch returns one ciphertext per key the KMS lists for the
// dataset, so a caller can search encrypted-at-rest data without knowing
// which key number produced any given stored value (spec §4.5).
func (s *StructuredEncryptSession) EncryptForSearch(ctx context.Context, pt string, opts ...TweakOption) ([]string, error) {
	cts, err := s.inner.EncryptForSearch(ctx, pt, applyTweakOptions(opts))
	if err == nil {
		s.creds.processEvent(ctx)
	}
	return cts, err
}

// Close releases the session.
func (s *StructuredEncryptSession) Close() {
	s.inner.Close()
}

// StructuredDecryptSession reverses StructuredEncryptSession (spec §4.5).
type StructuredDecryptSession struct {
	creds *Credentials
	inner *structured.DecryptSession
}

// NewStructuredDecryptSession fetches the dataset definition for
// datasetName, ready for repeated Decrypt calls; the key for a ciphertext is
// fetched by Decrypt once its embedded key number is known.
func (c *Credentials) NewStructuredDecryptSession(ctx context.Context, datasetName string) (*StructuredDecryptSession, error) {
	inner, err := structured.NewDecryptSession(ctx, c.client, c.structuredCaches(), c.agg, c.creds.AccessID, c.creds.CryptoAccessPassphrase, datasetName)
	if err != nil {
		return nil, err
	}
	return &StructuredDecryptSession{creds: c, inner: inner}, nil
}

// Decrypt reverses a format-preserving encryption produced by
// StructuredEncryptSession.Encrypt.
func (s *StructuredDecryptSession) Decrypt(ctx context.Context, ct string, opts ...TweakOption) (string, error) {
	pt, err := s.inner.Decrypt(ctx, ct, applyTweakOptions(opts))
	if err == nil {
		s.creds.processEvent(ctx)
	}
	return pt, err
}

// Close releases the session.
func (s *StructuredDecryptSession) Close() {
	s.inner.Close()
}

// StructuredEncrypt is the one-shot convenience form of
// NewStructuredEncryptSession + Encrypt + Close.
func StructuredEncrypt(ctx context.Context, creds *Credentials, datasetName, pt string, opts ...TweakOption) (string, error) {
	sess, err := creds.NewStructuredEncryptSession(ctx, datasetName)
	if err != nil {
		return "", err
	}
	defer sess.Close()
	return sess.Encrypt(pt, opts...)
}

// StructuredDecrypt is the one-shot convenience form of
// NewStructuredDecryptSession + Decrypt + Close.
func StructuredDecrypt(ctx context.Context, creds *Credentials, datasetName, ct string, opts ...TweakOption) (string, error) {
	sess, err := creds.NewStructuredDecryptSession(ctx, datasetName)
	if err != nil {
		return "", err
	}
	defer sess.Close()
	return sess.Decrypt(ctx, ct, opts...)
}

// StructuredEncryptForSearch is the one-shot convenience form of
// NewStructuredEncryptSession + EncryptForSearch + Close.
func StructuredEncryptForSearch(ctx context.Context, creds *Credentials, datasetName, pt string, opts ...TweakOption) ([]string, error) {
	sess, err := creds.NewStructuredEncryptSession(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.EncryptForSearch(ctx, pt, opts...)
}
