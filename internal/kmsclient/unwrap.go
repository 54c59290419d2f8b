package kmsclient

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // RSA-OAEP-MGF1-SHA1 is the wire-mandated unwrap algorithm (spec §4.3).
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
)

// UnwrapKey decrypts wrapped.EncryptedPrivateKey with passphrase to obtain
// the client's RSA private key, then uses it to RSA-OAEP-MGF1-SHA1 decrypt
// wrapped.WrappedDataKey, producing the usable symmetric key (spec §4.3).
func UnwrapKey(wrapped WrappedKey, passphrase string) (UnwrappedKey, error) {
	block, _ := pem.Decode([]byte(wrapped.EncryptedPrivateKey))
	if block == nil {
		return UnwrappedKey{}, errs.New(errs.KindCrypto, "encrypted_private_key is not valid PEM")
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // matches the legacy OpenSSL PEM encryption the KMS issues
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
		if err != nil {
			return UnwrappedKey{}, errs.Wrap(errs.KindCrypto, "decrypting RSA private key", err)
		}
	}

	priv, err := parsePrivateKey(keyBytes)
	if err != nil {
		return UnwrappedKey{}, errs.Wrap(errs.KindCrypto, "parsing RSA private key", err)
	}

	wrappedDataKey, err := base64.StdEncoding.DecodeString(wrapped.WrappedDataKey)
	if err != nil {
		return UnwrappedKey{}, errs.Wrap(errs.KindCrypto, "decoding wrapped_data_key", err)
	}

	raw, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, wrappedDataKey, nil)
	if err != nil {
		return UnwrappedKey{}, errs.Wrap(errs.KindCrypto, "RSA-OAEP unwrap of data key", err)
	}

	return UnwrappedKey{WrappedKey: wrapped, UnwrappedDataKey: raw}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errs.New(errs.KindCrypto, "private key is not RSA")
	}
	return rsaKey, nil
}
