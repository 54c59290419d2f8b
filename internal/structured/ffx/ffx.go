// Package ffx implements the shared FFX primitives (NIST SP 800-38G) that
// back the FF1 cipher in internal/structured/ff1: the AES-CBC-based PRF, the
// single-block Ciph() derived from it, and radix string/number conversion.
// Grounded on original_source/ubiq_security/structured/lib/ffx.py, which
// itself implements the same primitives over OpenSSL's EVP interface; here
// crypto/aes + crypto/cipher stand in for M2Crypto's EVP.
package ffx

import (
	"crypto/aes"
	"crypto/cipher"
	"math"
	"math/big"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
)

// DefaultAlphabet is the canonical base-36 alphabet used when a dataset does
// not define its own input/output character set.
const DefaultAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const blockSize = 16

// Context holds the key, tweak and length bounds shared by every FFX round
// function call for one encrypt/decrypt operation.
type Context struct {
	block cipher.Block

	Alpha string
	Radix int

	MinTxtLen int
	MaxTxtLen int
	MinTwkLen int
	MaxTwkLen int

	Twk []byte
}

// NewContext validates key/radix/alphabet/length bounds and derives the
// AES block cipher used by PRF, mirroring ffx.py's Context.__init__.
func NewContext(key, twk []byte, maxTxtLen, minTwkLen, maxTwkLen, radix int, alpha string) (*Context, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errs.New(errs.KindInvalidLength, "key length invalid")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "constructing AES cipher", err)
	}

	if radix < 2 || radix > len(alpha) {
		return nil, errs.New(errs.KindUnsupportedAlgo, "unsupported radix or incompatible alphabet")
	}

	// For FF1: radix**minlen >= 1000000, so minlen = ceil(6 / log10(radix)).
	minTxtLen := int(math.Ceil(6 / math.Log10(float64(radix))))
	if minTxtLen < 2 || minTxtLen > maxTxtLen {
		return nil, errs.New(errs.KindInvalidLength, "invalid text length bounds")
	}

	if minTwkLen > maxTwkLen || len(twk) < minTwkLen || (maxTwkLen > 0 && len(twk) > maxTwkLen) {
		return nil, errs.New(errs.KindInvalidLength, "invalid tweak length or bounds")
	}

	return &Context{
		block:     block,
		Alpha:     alpha,
		Radix:     radix,
		MinTxtLen: minTxtLen,
		MaxTxtLen: maxTxtLen,
		MinTwkLen: minTwkLen,
		MaxTwkLen: maxTwkLen,
		Twk:       twk,
	}, nil
}

// PRF is CBC-MAC over buf with a zero IV, AES-keyed per the context: the
// ciphertext of the final block. len(buf) must be a multiple of the AES
// block size.
func (c *Context) PRF(buf []byte) ([]byte, error) {
	if len(buf)%blockSize != 0 {
		return nil, errs.New(errs.KindInvalidLength, "PRF input must be a multiple of the block size")
	}
	iv := make([]byte, blockSize)
	mode := cipher.NewCBCEncrypter(c.block, iv)
	dst := make([]byte, len(buf))
	mode.CryptBlocks(dst, buf)
	return dst[len(dst)-blockSize:], nil
}

// Ciph is PRF restricted to a single leading block, used to extend R to the
// round's required output length.
func (c *Context) Ciph(buf []byte) ([]byte, error) {
	return c.PRF(buf[0:blockSize])
}

// StringToNumber decodes s, written in alpha's radix, into its integer value.
func StringToNumber(radix int, alpha, s string) *big.Int {
	n := new(big.Int)
	p := big.NewInt(1)
	r := big.NewInt(int64(radix))
	for i := len(s) - 1; i >= 0; i-- {
		x := indexOf(alpha, s[i])
		n.Add(n, new(big.Int).Mul(big.NewInt(int64(x)), p))
		p.Mul(p, r)
	}
	return n
}

// NumberToString encodes n in alpha's radix, left-padded with alpha[0] to at
// least l characters.
func NumberToString(radix int, alpha string, n *big.Int, l int) string {
	r := big.NewInt(int64(radix))
	rem := new(big.Int)
	v := new(big.Int).Set(n)
	buf := make([]byte, 0, l)
	zero := big.NewInt(0)
	for v.Cmp(zero) != 0 {
		v.DivMod(v, r, rem)
		buf = append(buf, alpha[rem.Int64()])
	}
	for len(buf) < l {
		buf = append(buf, alpha[0])
	}
	// buf was built least-significant digit first; reverse it.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

func indexOf(alpha string, b byte) int {
	for i := 0; i < len(alpha); i++ {
		if alpha[i] == b {
			return i
		}
	}
	return -1
}
