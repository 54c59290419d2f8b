// Package structured implements the format-preserving encryption rule
// engine and dataset-driven encrypt/decrypt/encrypt-for-search flows from
// spec §4.5, wiring internal/structured/ff1 to the dataset definitions and
// keys fetched through internal/kmsclient. Grounded on
// original_source/ubiq_security/structured/common.py (fmtInput/fmtOutput,
// key-number embedding, radix conversion) and encrypt.py/decrypt.py (the
// Encryption/Decryption session classes).
package structured

import (
	"sort"
	"strings"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
	"github.com/ubiqsecurity/ubiq-go/internal/structured/ffx"
)

// fmtInput walks s, applying passthrough/prefix/suffix rules in priority
// order. Passthrough characters are recorded in fmt (with a placeholder for
// trimmed characters) and removed from the returned trimmed string; prefix
// and suffix rules detach their configured character count into the rule's
// Buffer. If rules contains no explicit passthrough rule, one is
// synthesized from legacyPassthrough at priority 1, matching common.py's
// "insert for legacy passthrough" behavior.
func fmtInput(s, legacyPassthrough, ics, ocs string, rules []kmsclient.PassthroughRule) (fmtStr, trimmed string, outRules []kmsclient.PassthroughRule, err error) {
	hasPassthrough := false
	for _, r := range rules {
		if r.Type == "passthrough" {
			hasPassthrough = true
			break
		}
	}
	if !hasPassthrough {
		rules = append([]kmsclient.PassthroughRule{{
			Type:     "passthrough",
			Value:    kmsclient.RuleValue{Str: legacyPassthrough},
			Priority: 1,
		}}, rules...)
	} else {
		rules = append([]kmsclient.PassthroughRule(nil), rules...)
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	var fmtBuf strings.Builder
	trm := s

	for i := range rules {
		rule := &rules[i]
		switch rule.Type {
		case "passthrough":
			pth := rule.Value.Str
			var o strings.Builder
			for _, c := range trm {
				if strings.ContainsRune(pth, c) {
					fmtBuf.WriteRune(c)
				} else {
					fmtBuf.WriteByte(ocs[0])
					o.WriteRune(c)
				}
			}
			trm = o.String()
		case "prefix":
			n := rule.Value.AsInt()
			if n > len(trm) {
				n = len(trm)
			}
			rule.Buffer = trm[:n]
			trm = trm[n:]
		case "suffix":
			n := rule.Value.AsInt()
			if n > len(trm) {
				n = len(trm)
			}
			rule.Buffer = trm[len(trm)-n:]
			trm = trm[:len(trm)-n]
		default:
			return "", "", nil, errs.New(errs.KindInvalidInputChar, "unsupported passthrough rule type: "+rule.Type)
		}
	}

	for _, c := range trm {
		if !strings.ContainsRune(ics, c) {
			return "", "", nil, errs.New(errs.KindInvalidInputChar, "invalid input string character(s)")
		}
	}

	return fmtBuf.String(), trm, rules, nil
}

// fmtOutput reverses fmtInput, re-threading passthrough characters recorded
// in fmt back into s and reattaching prefix/suffix buffers, processing
// rules in decreasing priority order (the reverse of fmtInput's pass).
func fmtOutput(fmtStr, s string, rules []kmsclient.PassthroughRule) (string, error) {
	rules = append([]kmsclient.PassthroughRule(nil), rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		switch rule.Type {
		case "passthrough":
			pth := rule.Value.Str
			var o strings.Builder
			rem := s
			for _, c := range fmtStr {
				if !strings.ContainsRune(pth, c) {
					if len(rem) == 0 {
						return "", errs.New(errs.KindFormatMismatch, "mismatched format and output strings")
					}
					o.WriteByte(rem[0])
					rem = rem[1:]
				} else {
					o.WriteRune(c)
				}
			}
			if len(rem) > 0 {
				return "", errs.New(errs.KindFormatMismatch, "mismatched format and output strings")
			}
			s = o.String()
		case "prefix":
			s = rule.Buffer + s
		case "suffix":
			s = s + rule.Buffer
		default:
			return "", errs.New(errs.KindInvalidInputChar, "unsupported passthrough rule type: "+rule.Type)
		}
	}
	return s, nil
}

// strConvertRadix re-encodes s from the ics alphabet/radix into the ocs
// alphabet/radix, preserving s's length.
func strConvertRadix(s, ics, ocs string) string {
	n := ffx.StringToNumber(len(ics), ics, s)
	return ffx.NumberToString(len(ocs), ocs, n, len(s))
}

// encKeyNumber embeds key number n into s's first output-alphabet character
// by shifting it into the high bits above msbEncodingBits, per
// common.py's encKeyNumber.
func encKeyNumber(s, ocs string, n, msbEncodingBits int) string {
	idx := strings.IndexByte(ocs, s[0])
	return string(ocs[idx+(n<<uint(msbEncodingBits))]) + s[1:]
}

// decKeyNumber extracts the key number embedded in s's first character and
// returns s with that character restored to its unshifted value.
func decKeyNumber(s, ocs string, msbEncodingBits int) (string, int) {
	encoded := strings.IndexByte(ocs, s[0])
	keyNum := encoded >> uint(msbEncodingBits)
	return string(ocs[encoded-(keyNum<<uint(msbEncodingBits))]) + s[1:], keyNum
}
