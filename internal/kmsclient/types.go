package kmsclient

// WrappedKey is the transport-shape key record returned by the KMS: an
// RSA-OAEP wrapped symmetric key plus the passphrase-wrapped RSA private key
// needed to unwrap it (spec §3's "Key record", DESIGN NOTES §9's split of
// dynamic dict keys into WrappedKey/UnwrappedKey).
type WrappedKey struct {
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	WrappedDataKey      string `json:"wrapped_data_key"`
	EncryptedDataKey    string `json:"encrypted_data_key,omitempty"`
	KeyNumber           int    `json:"key_number"`
	KeyFingerprint      string `json:"key_fingerprint"`
	EncryptionSession   string `json:"encryption_session"`
	MaxUses             int    `json:"max_uses,omitempty"`
	SecurityModel       struct {
		Algorithm string `json:"algorithm"`
	} `json:"security_model,omitempty"`
}

// UnwrappedKey pairs a WrappedKey with its locally-decrypted symmetric key
// material. Sessions hold an UnwrappedKey plus a live cipher context as a
// separate field, per DESIGN NOTES §9.
type UnwrappedKey struct {
	WrappedKey
	UnwrappedDataKey []byte
}

// Dataset is the FPE dataset definition fetched from /api/v0/ffs (spec §3).
type Dataset struct {
	Name                 string           `json:"name"`
	EncryptionAlgorithm   string           `json:"encryption_algorithm"`
	InputCharacterSet     string           `json:"input_character_set"`
	OutputCharacterSet    string           `json:"output_character_set"`
	Passthrough           string           `json:"passthrough"`
	PassthroughRules      []PassthroughRule `json:"passthrough_rules"`
	Tweak                 string           `json:"tweak"`
	TweakMinLen           int              `json:"tweak_min_len"`
	TweakMaxLen           int              `json:"tweak_max_len"`
	MSBEncodingBits       int              `json:"msb_encoding_bits"`
	MinInputLength        int              `json:"min_input_length"`
	MaxInputLength        int              `json:"max_input_length"`
}

// PassthroughRule is one entry of a dataset's ordered passthrough_rules list
// (spec §4.5): type is "passthrough", "prefix" or "suffix". Value carries a
// character set for "passthrough" rules and a character count for
// "prefix"/"suffix" rules, so the wire representation may be either a JSON
// string or a JSON number.
type PassthroughRule struct {
	Type     string    `json:"type"`
	Value    RuleValue `json:"value"`
	Priority int       `json:"priority"`
	// Buffer holds characters detached by a prefix/suffix rule during
	// fmtInput, to be reattached by fmtOutput. Not part of the wire format.
	Buffer string `json:"-"`
}

// RuleValue unmarshals a passthrough_rules[].value field that may be either
// a string (the passthrough character set) or a number (a prefix/suffix
// character count).
type RuleValue struct {
	Str string
	Int int
	// IsInt reports which of Str/Int carries the decoded value.
	IsInt bool
}


// allKeysResponse models the /api/v0/fpe/def_keys response shape:
// {"<dataset_name>": {"encrypted_private_key": ..., "keys": [wrapped...]}}.
type allKeysResponse map[string]struct {
	EncryptedPrivateKey string   `json:"encrypted_private_key"`
	Keys                []string `json:"keys"`
}
