package ffx_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/structured/ffx"
)

func TestStringToNumberAndBackRoundTrip(t *testing.T) {
	n := ffx.StringToNumber(10, "0123456789", "0123456789")
	require.Equal(t, big.NewInt(123456789), n)
	require.Equal(t, "0123456789", ffx.NumberToString(10, "0123456789", n, 10))
}

func TestNumberToStringPadsWithFirstAlphabetChar(t *testing.T) {
	s := ffx.NumberToString(16, "0123456789abcdef", big.NewInt(10), 6)
	require.Equal(t, "00000a", s)
}

func TestNumberToStringZeroIsAllZeroAlphabetChar(t *testing.T) {
	s := ffx.NumberToString(36, ffx.DefaultAlphabet, big.NewInt(0), 4)
	require.Equal(t, "0000", s)
}

func TestNewContextRejectsBadKeyLength(t *testing.T) {
	_, err := ffx.NewContext(make([]byte, 15), []byte{}, 256, 0, 0, 10, "0123456789")
	require.Error(t, err)
}

func TestNewContextRejectsRadixLargerThanAlphabet(t *testing.T) {
	_, err := ffx.NewContext(make([]byte, 16), []byte{}, 256, 0, 0, 20, "0123456789")
	require.Error(t, err)
}

func TestPRFIsDeterministicAndFullBlock(t *testing.T) {
	ctx, err := ffx.NewContext(make([]byte, 16), []byte{}, 256, 0, 0, 10, ffx.DefaultAlphabet)
	require.NoError(t, err)

	buf := make([]byte, 32)
	out1, err := ctx.PRF(buf)
	require.NoError(t, err)
	out2, err := ctx.PRF(buf)
	require.NoError(t, err)
	require.Equal(t, out1, out2)
	require.Len(t, out1, 16)
}

func TestPRFRejectsNonBlockMultiple(t *testing.T) {
	ctx, err := ffx.NewContext(make([]byte, 16), []byte{}, 256, 0, 0, 10, ffx.DefaultAlphabet)
	require.NoError(t, err)

	_, err = ctx.PRF(make([]byte, 17))
	require.Error(t, err)
}
