package structured

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

func TestFmtInputLegacyPassthroughRoundTrip(t *testing.T) {
	fmtStr, trimmed, rules, err := fmtInput("123-45-6789", "-", "0123456789", "0123456789", nil)
	require.NoError(t, err)
	require.Equal(t, "123456789", trimmed)

	out, err := fmtOutput(fmtStr, "987654321", rules)
	require.NoError(t, err)
	require.Equal(t, "987-65-4321", out)
}

func TestFmtInputPrefixSuffixRules(t *testing.T) {
	rules := []kmsclient.PassthroughRule{
		{Type: "prefix", Value: kmsclient.RuleValue{Int: 3, IsInt: true}, Priority: 1},
		{Type: "suffix", Value: kmsclient.RuleValue{Int: 2, IsInt: true}, Priority: 2},
		{Type: "passthrough", Value: kmsclient.RuleValue{Str: ""}, Priority: 3},
	}
	fmtStr, trimmed, outRules, err := fmtInput("ABC1234567XY", "", "0123456789", "0123456789", rules)
	require.NoError(t, err)
	require.Equal(t, "1234567", trimmed)

	out, err := fmtOutput(fmtStr, "7654321", outRules)
	require.NoError(t, err)
	require.Equal(t, "ABC7654321XY", out)
}

func TestFmtInputRejectsInvalidCharacters(t *testing.T) {
	_, _, _, err := fmtInput("12a45", "", "0123456789", "0123456789", nil)
	require.Error(t, err)
}

func TestStrConvertRadixPreservesLength(t *testing.T) {
	out := strConvertRadix("000255", "0123456789", "0123456789abcdef")
	require.Len(t, out, 6)
}

func TestEncDecKeyNumberRoundTrip(t *testing.T) {
	// The output character set must have enough headroom above the input
	// radix to shift a key number into the high bits of the first
	// character's index without running off the end of the alphabet.
	ocs := "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	ct := "5551234567"
	withKey := encKeyNumber(ct, ocs, 3, 4)
	back, n := decKeyNumber(withKey, ocs, 4)
	require.Equal(t, 3, n)
	require.Equal(t, ct, back)
}
