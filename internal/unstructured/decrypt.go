package unstructured

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ubiqsecurity/ubiq-go/internal/cache"
	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

// DecryptClient is the subset of kmsclient.Client a decrypt session needs.
type DecryptClient interface {
	FetchDecryptKey(ctx context.Context, wrappedKey []byte) (kmsclient.WrappedKey, error)
}

// decryptState is the state machine from spec §4.4: READING_HEADER ->
// PARSED_FIXED -> DECRYPTING -> (end) -> READING_HEADER. The
// HAVE_KEY_MATERIAL step has no state of its own: once the IV and wrapped
// key are buffered, Update resolves the key and enters DECRYPTING in the
// same call.
type decryptState int

const (
	stateReadingHeader decryptState = iota
	stateParsedFixed
	stateDecrypting
)

// DecryptSession reverses EncryptSession over a byte stream that may carry
// multiple concatenated messages. The same wrapped key is reused across
// messages without a KMS round trip when consecutive messages share a
// client_id (spec §4.4).
type DecryptSession struct {
	client     DecryptClient
	keys       *cache.Cache[kmsclient.UnwrappedKey]
	encryptAtRest bool
	agg        *events.Aggregator
	papi       string
	passphrase string

	state      decryptState
	inProgress bool

	buf []byte // unconsumed header bytes while state < stateDecrypting
	hdr header

	clientID   [32]byte
	haveKey    bool
	dataKey    []byte
	gcm        cipher.AEAD
	ciphertext []byte // ciphertext||tag accumulated since Begin
}

// NewDecryptSession constructs a session ready to accept Begin/Update/End
// calls. The session may be reused across many decrypt operations. keys may
// be nil, matching key_caching.unstructured=false's pass-through rule (spec
// §4.2); when non-nil, encryptAtRest selects the key_caching.encrypt policy
// of never storing the unwrapped key material.
func NewDecryptSession(client DecryptClient, keys *cache.Cache[kmsclient.UnwrappedKey], encryptAtRest bool, agg *events.Aggregator, papi, passphrase string) *DecryptSession {
	return &DecryptSession{client: client, keys: keys, encryptAtRest: encryptAtRest, agg: agg, papi: papi, passphrase: passphrase}
}

// Begin starts one decryption. Unlike EncryptSession, no header is returned;
// header bytes are consumed from the first Update calls instead.
func (s *DecryptSession) Begin() error {
	if s.inProgress {
		return errs.New(errs.KindIllegalState, "decryption already in progress")
	}
	s.inProgress = true
	s.state = stateReadingHeader
	s.buf = nil
	s.hdr = header{}
	s.ciphertext = nil
	return nil
}

// Update feeds the next chunk of the stream, which may contain header bytes,
// ciphertext bytes, or both. crypto/cipher's GCM has no incremental Open, so
// unlike the underlying stream cipher in the source implementation,
// plaintext is not available until End(); Update always returns nil, which
// the state machine in spec §4.4 explicitly allows ("may be empty").
func (s *DecryptSession) Update(ctx context.Context, chunk []byte) ([]byte, error) {
	if !s.inProgress {
		return nil, errs.New(errs.KindIllegalState, "update called outside begin/end")
	}
	s.buf = append(s.buf, chunk...)

	if s.state == stateReadingHeader {
		if len(s.buf) < headerFixedLen {
			return nil, nil
		}
		hdr, err := parseFixedHeader(s.buf[:headerFixedLen])
		if err != nil {
			return nil, err
		}
		s.hdr = hdr
		s.buf = s.buf[headerFixedLen:]
		s.state = stateParsedFixed
	}

	if s.state == stateParsedFixed {
		need := s.hdr.IVLen + s.hdr.KeyLen
		if len(s.buf) < need {
			return nil, nil
		}
		s.hdr.IV = append([]byte(nil), s.buf[:s.hdr.IVLen]...)
		s.hdr.WrappedKey = append([]byte(nil), s.buf[s.hdr.IVLen:need]...)
		s.buf = s.buf[need:]

		if err := s.resolveKey(ctx); err != nil {
			return nil, err
		}

		block, err := aes.NewCipher(s.dataKey)
		if err != nil {
			return nil, errs.Wrap(errs.KindCrypto, "constructing AES cipher", err)
		}
		gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
		if err != nil {
			return nil, errs.Wrap(errs.KindCrypto, "constructing GCM", err)
		}
		s.gcm = gcm
		s.state = stateDecrypting
		s.ciphertext = append(s.ciphertext, s.buf...)
		s.buf = nil
		return nil, nil
	}

	s.ciphertext = append(s.ciphertext, s.buf...)
	s.buf = nil
	return nil, nil
}

// resolveKey computes client_id = SHA-256(wrapped_key) and fetches/reuses
// the unwrapped data key accordingly (spec §4.4), consulting the shared
// cross-session key cache (spec §4.2) before calling the KMS.
func (s *DecryptSession) resolveKey(ctx context.Context) error {
	id := sha256.Sum256(s.hdr.WrappedKey)
	if s.haveKey && id == s.clientID {
		return nil
	}

	cacheKey := s.papi + "|" + hex.EncodeToString(id[:])
	if uk, ok := s.keys.Get(cacheKey); ok {
		if s.encryptAtRest {
			fresh, err := kmsclient.UnwrapKey(uk.WrappedKey, s.passphrase)
			if err != nil {
				return err
			}
			uk = fresh
		}
		s.dataKey = uk.UnwrappedDataKey
		s.clientID = id
		s.haveKey = true
		return nil
	}

	wrapped, err := s.client.FetchDecryptKey(ctx, s.hdr.WrappedKey)
	if err != nil {
		return err
	}
	uk, err := kmsclient.UnwrapKey(wrapped, s.passphrase)
	if err != nil {
		return err
	}
	if len(uk.UnwrappedDataKey) != keyLen {
		return errs.New(errs.KindInvalidLength, "unwrapped data key is not 32 bytes")
	}

	stored := uk
	if s.encryptAtRest {
		stored = kmsclient.UnwrappedKey{WrappedKey: wrapped}
	}
	s.keys.Set(cacheKey, stored)

	s.dataKey = uk.UnwrappedDataKey
	s.clientID = id
	s.haveKey = true
	return nil
}

// End verifies the AEAD tag over everything buffered since Begin and returns
// the final plaintext. The session resets to accept a new Begin afterward,
// retaining its resolved key for reuse by a following message with the same
// client_id.
func (s *DecryptSession) End() ([]byte, error) {
	if !s.inProgress {
		return nil, errs.New(errs.KindIllegalState, "end called outside begin")
	}
	defer func() {
		s.inProgress = false
		s.gcm = nil
	}()

	if s.state != stateDecrypting || len(s.ciphertext) < tagLen {
		return nil, errs.New(errs.KindInvalidLength, "ciphertext truncated before tag")
	}

	var aad []byte
	if s.hdr.AAD() {
		aad = s.hdr.Bytes()
	}

	pt, err := s.gcm.Open(nil, s.hdr.IV, s.ciphertext, aad)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "AEAD tag verification failed", err)
	}

	s.recordEvent()
	return pt, nil
}

func (s *DecryptSession) recordEvent() {
	if s.agg != nil {
		s.agg.AddEvent(s.papi, "", "", "decrypt", "unstructured", 0, 1)
	}
}

// Decrypt is the whole-buffer convenience API: begin() + update(all) +
// end(), for callers that already hold the complete ciphertext.
func (s *DecryptSession) Decrypt(ctx context.Context, ct []byte) ([]byte, error) {
	if err := s.Begin(); err != nil {
		return nil, err
	}
	if _, err := s.Update(ctx, ct); err != nil {
		s.inProgress = false
		return nil, err
	}
	return s.End()
}

// Close releases the session. Unlike EncryptSession, no network call is
// made: the Python SDK this is grounded on never reports decrypt-side usage
// back to the KMS on close.
func (s *DecryptSession) Close() {}
