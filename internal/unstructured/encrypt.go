package unstructured

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/charmbracelet/log"
	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

// EncryptClient is the subset of kmsclient.Client an encrypt session needs.
type EncryptClient interface {
	FetchEncryptionKey(ctx context.Context, uses int) (kmsclient.WrappedKey, error)
	PatchEncryptionKeyUses(ctx context.Context, fingerprint, session string, requested, actual int) error
}

// EncryptSession owns a single data key issued for up to MaxUses separate
// encryptions (spec §4.4).
type EncryptSession struct {
	client     EncryptClient
	agg        *events.Aggregator
	papi       string
	passphrase string

	dataKey          []byte
	encryptedDataKey []byte
	fingerprint      string
	session          string
	maxUses          int
	uses             int

	gcm        cipher.AEAD
	aad        bool
	hdr        header
	inProgress bool
	plaintext  []byte
}

// NewEncryptSession requests a data key from the KMS usable for up to uses
// encryptions.
func NewEncryptSession(ctx context.Context, client EncryptClient, agg *events.Aggregator, papi, passphrase string, uses int, aad bool) (*EncryptSession, error) {
	wrapped, err := client.FetchEncryptionKey(ctx, uses)
	if err != nil {
		return nil, err
	}
	uk, err := kmsclient.UnwrapKey(wrapped, passphrase)
	if err != nil {
		return nil, err
	}
	if len(uk.UnwrappedDataKey) != keyLen {
		return nil, errs.New(errs.KindInvalidLength, "unwrapped data key is not 32 bytes")
	}
	// The header's wrapped-key bytes must be the raw opaque blob, not its
	// base64 text, so that a later decrypt's FetchDecryptKey can re-encode
	// it identically into the request body (spec §4.3's
	// encrypted_data_key field).
	encDataKey, err := base64.StdEncoding.DecodeString(wrapped.EncryptedDataKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "decoding encrypted_data_key", err)
	}
	return &EncryptSession{
		client: client, agg: agg, papi: papi, passphrase: passphrase,
		dataKey:          uk.UnwrappedDataKey,
		encryptedDataKey: encDataKey,
		fingerprint:      wrapped.KeyFingerprint,
		session:          wrapped.EncryptionSession,
		maxUses:          wrapped.MaxUses,
		aad:              aad,
	}, nil
}

// Begin starts one encryption, returning the wire header to prepend to the
// ciphertext stream.
func (s *EncryptSession) Begin() ([]byte, error) {
	if s.inProgress {
		return nil, errs.New(errs.KindIllegalState, "encryption already in progress")
	}
	if s.uses >= s.maxUses {
		return nil, errs.New(errs.KindQuotaExceeded, "maximum key uses exceeded")
	}
	s.uses++

	block, err := aes.NewCipher(s.dataKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "constructing AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "constructing GCM", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "generating IV", err)
	}

	flags := 0
	if s.aad {
		flags |= flagAAD
	}
	hdr := header{
		Version: 0, Flags: flags, AlgoID: algoAES256GCM,
		IVLen: len(iv), KeyLen: len(s.encryptedDataKey),
		IV: iv, WrappedKey: s.encryptedDataKey,
	}

	s.gcm = gcm
	s.hdr = hdr
	s.inProgress = true
	return hdr.Bytes(), nil
}

// Update buffers a chunk of plaintext for encryption. crypto/cipher's GCM
// has no incremental Seal, so unlike the underlying stream cipher in the
// source implementation, ciphertext for any given chunk is not available
// until End(); Update always returns nil, which the state machine in
// spec §4.4 explicitly allows ("may be empty").
func (s *EncryptSession) Update(pt []byte) []byte {
	s.plaintext = append(s.plaintext, pt...)
	return nil
}

// End finalizes the encryption, returning ciphertext||tag for everything
// buffered since Begin, and resets the session so Begin can be called
// again.
func (s *EncryptSession) End() []byte {
	var aad []byte
	if s.hdr.AAD() {
		aad = s.hdr.Bytes()
	}
	out := s.gcm.Seal(nil, s.hdr.IV, s.plaintext, aad)
	s.plaintext = nil
	s.inProgress = false
	s.gcm = nil
	s.recordEvent()
	return out
}

// Encrypt is the whole-buffer convenience API: begin() + update(all) +
// end(), matching encrypt.py's module-level encrypt() function.
func (s *EncryptSession) Encrypt(pt []byte) ([]byte, error) {
	hdr, err := s.Begin()
	if err != nil {
		return nil, err
	}
	s.Update(pt)
	ct := s.End()
	return append(hdr, ct...), nil
}

func (s *EncryptSession) recordEvent() {
	if s.agg != nil {
		s.agg.AddEvent(s.papi, "", "", "encrypt", "unstructured", 0, 1)
	}
}

// Close releases the session's key, best-effort reporting unused uses to
// the KMS so its quota isn't consumed by keys that were fetched but never
// fully used (spec §4.4). Errors are logged, not returned, since the
// caller has no recourse at close time.
func (s *EncryptSession) Close(ctx context.Context) {
	if s.uses >= s.maxUses {
		return
	}
	if err := s.client.PatchEncryptionKeyUses(ctx, s.fingerprint, s.session, s.maxUses, s.uses); err != nil {
		log.Debug("best-effort encryption key use report failed", "err", err)
	}
}
