package ff1_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/structured/ff1"
)

// These are the published NIST SP 800-38G FF1-AES128 known-answer vectors
// (the same AES-128 test key from FIPS-197), used here because they can be
// checked against a public standard without running any code that depends
// on live KMS-issued key material.
var aes128Key, _ = hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")

func TestFF1KnownAnswerVectors(t *testing.T) {
	cases := []struct {
		name   string
		radix  int
		alpha  string
		tweak  string // hex
		pt, ct string
	}{
		{"sample1_no_tweak", 10, "0123456789", "", "0123456789", "2433477484"},
		{"sample2_numeric_tweak", 10, "0123456789", "39383736353433323130", "0123456789", "6124200773"},
		{"sample3_radix36", 36, "0123456789abcdefghijklmnopqrstuvwxyz", "3737373770717273373737", "0123456789abcdefghi", "a9tv40mll9kdu509eum"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			twk, err := hex.DecodeString(tc.tweak)
			require.NoError(t, err)

			ctx, err := ff1.NewContext(aes128Key, twk, 0, 0, tc.radix, tc.alpha)
			require.NoError(t, err)

			got, err := ctx.Encrypt(tc.pt, nil)
			require.NoError(t, err)
			require.Equal(t, tc.ct, got)

			back, err := ctx.Decrypt(tc.ct, nil)
			require.NoError(t, err)
			require.Equal(t, tc.pt, back)
		})
	}
}

func TestFF1RoundTripVariousLengthsAndRadixes(t *testing.T) {
	ctx, err := ff1.NewContext(aes128Key, []byte{}, 0, 0, 10, "0123456789")
	require.NoError(t, err)

	for _, pt := range []string{"12345678", "000000000000", "98765432109876"} {
		ct, err := ctx.Encrypt(pt, nil)
		require.NoError(t, err)
		require.Len(t, ct, len(pt))
		require.NotEqual(t, pt, ct)

		back, err := ctx.Decrypt(ct, nil)
		require.NoError(t, err)
		require.Equal(t, pt, back)
	}
}

func TestFF1RoundTripWithPerCallTweak(t *testing.T) {
	ctx, err := ff1.NewContext(aes128Key, nil, 0, 8, 10, "0123456789")
	require.NoError(t, err)

	twk := []byte("abcdefgh")
	ct, err := ctx.Encrypt("55512345678", twk)
	require.NoError(t, err)

	back, err := ctx.Decrypt(ct, twk)
	require.NoError(t, err)
	require.Equal(t, "55512345678", back)

	// A different tweak must not decrypt correctly.
	wrong, err := ctx.Decrypt(ct, []byte("zzzzzzzz"))
	require.NoError(t, err)
	require.NotEqual(t, "55512345678", wrong)
}

func TestFF1RejectsInputShorterThanMinimumLength(t *testing.T) {
	ctx, err := ff1.NewContext(aes128Key, []byte{}, 0, 0, 10, "0123456789")
	require.NoError(t, err)

	_, err = ctx.Encrypt("1", nil)
	require.Error(t, err)
}
