// Package unstructured implements the AES-256-GCM streaming cipher from
// spec §3/§4.4: a self-describing 6-byte-plus header followed by GCM
// ciphertext and an appended tag. Grounded on
// original_source/ubiq_security/encrypt.py and decrypt.py (the begin/
// update/end session shape and struct.pack('!BBBBH', ...) header) and
// algorithm.py (the algorithm id/key/iv/tag length table); the AAD-flag
// behavior is specified directly by spec §3/§4.4 rather than present in
// the distilled source, which never set the flags byte.
package unstructured

import (
	"encoding/binary"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
)

const (
	headerFixedLen = 6

	algoAES256GCM = 0

	keyLen = 32
	ivLen  = 12
	tagLen = 16

	flagAAD = 1 << 0
)

// header is the parsed fixed portion of the wire header, plus the
// variable-length IV and wrapped key once available.
type header struct {
	Version int
	Flags   int
	AlgoID  int
	IVLen   int
	KeyLen  int

	IV         []byte
	WrappedKey []byte
}

// AAD reports whether the header's AAD flag bit is set.
func (h header) AAD() bool { return h.Flags&flagAAD != 0 }

// Bytes reconstructs the full wire header (fixed portion + IV + wrapped
// key), used both to emit it on encrypt and to authenticate it as AAD on
// decrypt.
func (h header) Bytes() []byte {
	buf := make([]byte, headerFixedLen+len(h.IV)+len(h.WrappedKey))
	buf[0] = byte(h.Version)
	buf[1] = byte(h.Flags)
	buf[2] = byte(h.AlgoID)
	buf[3] = byte(h.IVLen)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.KeyLen))
	copy(buf[headerFixedLen:], h.IV)
	copy(buf[headerFixedLen+len(h.IV):], h.WrappedKey)
	return buf
}

// parseFixedHeader parses the 6-byte fixed prefix, validating the version
// and reserved flag bits per spec §4.4.
func parseFixedHeader(buf []byte) (header, error) {
	if len(buf) < headerFixedLen {
		return header{}, errs.New(errs.KindInvalidLength, "header shorter than 6 bytes")
	}
	h := header{
		Version: int(buf[0]),
		Flags:   int(buf[1]),
		AlgoID:  int(buf[2]),
		IVLen:   int(buf[3]),
		KeyLen:  int(binary.BigEndian.Uint16(buf[4:6])),
	}
	if h.Version != 0 {
		return header{}, errs.New(errs.KindInvalidHeader, "unknown header version")
	}
	if h.Flags & ^flagAAD != 0 {
		return header{}, errs.New(errs.KindInvalidHeader, "reserved flag bits set")
	}
	if h.AlgoID != algoAES256GCM {
		return header{}, errs.New(errs.KindUnsupportedAlgo, "unsupported algorithm id")
	}
	return h, nil
}
