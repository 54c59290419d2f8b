// Package ff1 implements the FF1 format-preserving encryption mode (NIST
// SP 800-38G) on top of internal/structured/ffx's round primitives.
// Grounded line-for-line on
// original_source/ubiq_security/structured/lib/ff1.py, which folds encrypt
// and decrypt into a single Feistel loop distinguished by the ENC flag;
// this port keeps that shape rather than writing two near-duplicate loops.
package ff1

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/structured/ffx"
)

const blockSize = 16

// Context is an FF1 cipher bound to one key, default tweak and alphabet.
type Context struct {
	ffx *ffx.Context
}

// NewContext builds an FF1 context for a maximum text length of 2^32,
// matching the FF1-specific bound ffx.py's ff1.Context passes down.
func NewContext(key, twk []byte, minTwkLen, maxTwkLen, radix int, alpha string) (*Context, error) {
	if alpha == "" {
		alpha = ffx.DefaultAlphabet
	}
	fc, err := ffx.NewContext(key, twk, 1<<32, minTwkLen, maxTwkLen, radix, alpha)
	if err != nil {
		return nil, err
	}
	return &Context{ffx: fc}, nil
}

// Encrypt FF1-encrypts X under tweak twk (or the context's default tweak
// when twk is nil).
func (c *Context) Encrypt(x string, twk []byte) (string, error) {
	return c.cipher(x, twk, true)
}

// Decrypt FF1-decrypts X under tweak twk (or the context's default tweak
// when twk is nil).
func (c *Context) Decrypt(x string, twk []byte) (string, error) {
	return c.cipher(x, twk, false)
}

func (c *Context) cipher(x string, twk []byte, enc bool) (string, error) {
	fc := c.ffx
	n := len(x)
	u := n / 2
	v := n - u

	b := int((math.Ceil(math.Log2(float64(fc.Radix))*float64(v)) + 7) / 8)
	d := 4*((b+3)/4) + 4

	rLen := ((d + blockSize - 1) / blockSize) * blockSize
	r := make([]byte, rLen)

	if twk == nil {
		twk = fc.Twk
	}
	if twk == nil {
		twk = []byte{}
	}

	if n < fc.MinTxtLen || n > fc.MaxTxtLen ||
		len(twk) < fc.MinTwkLen || (fc.MaxTwkLen > 0 && len(twk) > fc.MaxTwkLen) {
		return "", errs.New(errs.KindInvalidLength, "input or tweak length error")
	}

	pqLen := blockSize + (((len(twk)+b+1+15)/blockSize)*blockSize)
	pq := make([]byte, pqLen)

	pq[0], pq[1], pq[2] = 1, 2, 1
	pq[3] = byte(fc.Radix >> 16 & 0xff)
	pq[4] = byte(fc.Radix >> 8 & 0xff)
	pq[5] = byte(fc.Radix & 0xff)
	pq[6] = 10
	pq[7] = byte(u & 0xff)
	binary.BigEndian.PutUint32(pq[8:12], uint32(n))
	binary.BigEndian.PutUint32(pq[12:16], uint32(len(twk)))
	copy(pq[blockSize:blockSize+len(twk)], twk)

	nA := ffx.StringToNumber(fc.Radix, fc.Alpha, x[:u])
	nB := ffx.StringToNumber(fc.Radix, fc.Alpha, x[u:])
	if !enc {
		nA, nB = nB, nA
	}

	mU := new(big.Int).Exp(big.NewInt(int64(fc.Radix)), big.NewInt(int64(u)), nil)
	mV := new(big.Int).Set(mU)
	if u != v {
		mV.Mul(mV, big.NewInt(int64(fc.Radix)))
	}

	roundByteIdx := len(pq) - b - 1

	for i := 0; i < 10; i++ {
		if enc {
			pq[roundByteIdx] = byte(i)
		} else {
			pq[roundByteIdx] = byte(9 - i)
		}

		putBigEndian(pq[len(pq)-b:], nB, b)

		block0, err := fc.PRF(pq)
		if err != nil {
			return "", err
		}
		copy(r[:blockSize], block0)

		for j := 0; j < (len(r)/blockSize)-1; j++ {
			w := binary.BigEndian.Uint32(r[12:blockSize])
			binary.BigEndian.PutUint32(r[12:blockSize], w^uint32(j+1))
			cblk, err := fc.Ciph(r)
			if err != nil {
				return "", err
			}
			copy(r[blockSize*(j+1):blockSize*(j+2)], cblk)
			binary.BigEndian.PutUint32(r[12:blockSize], w)
		}

		y := new(big.Int).SetBytes(r[:d])
		if enc {
			y.Add(nA, y)
		} else {
			y.Sub(nA, y)
		}

		nA, nB = nB, nA

		var enciInt int
		if enc {
			enciInt = 1
		}
		if enciInt == i%2 {
			nB = new(big.Int).Mod(y, mV)
		} else {
			nB = new(big.Int).Mod(y, mU)
		}
	}

	if !enc {
		nA, nB = nB, nA
	}

	return ffx.NumberToString(fc.Radix, fc.Alpha, nA, u) +
		ffx.NumberToString(fc.Radix, fc.Alpha, nB, v), nil
}

// putBigEndian writes n into dst (length b) as a big-endian unsigned
// integer, left-padding with zero bytes.
func putBigEndian(dst []byte, n *big.Int, b int) {
	for i := range dst {
		dst[i] = 0
	}
	nb := n.Bytes()
	if len(nb) > b {
		nb = nb[len(nb)-b:]
	}
	copy(dst[b-len(nb):], nb)
}
