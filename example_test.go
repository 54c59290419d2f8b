package ubiq_test

import (
	"context"
	"fmt"

	ubiq "github.com/ubiqsecurity/ubiq-go"
)

// Example_unstructured demonstrates a single unstructured encrypt/decrypt
// round trip through the one-shot Encrypt/Decrypt functions, the Go
// equivalent of original_source/ubiq_sample.py's simple_encrypt/
// simple_decrypt calls (SPEC_FULL.md §12's SUPPLEMENTED FEATURES).
func Example_unstructured() {
	ctx := context.Background()

	creds, err := ubiq.NewCredentials("access-id", "sign-key", "crypto-passphrase", "", ubiq.DefaultConfiguration())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer creds.Close()

	ct, err := ubiq.Encrypt(ctx, creds, []byte("hello, world"), false)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	pt, err := ubiq.Decrypt(ctx, creds, ct)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(string(pt))
}

// Example_structured demonstrates a format-preserving encrypt/decrypt round
// trip against a named dataset, the Go equivalent of
// original_source/ubiq_fpe_sample.py's encrypt_fpe/decrypt_fpe calls.
func Example_structured() {
	ctx := context.Background()

	creds, err := ubiq.NewCredentials("access-id", "sign-key", "crypto-passphrase", "", ubiq.DefaultConfiguration())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer creds.Close()

	ct, err := ubiq.StructuredEncrypt(ctx, creds, "SSN", "-0-1-2-3-4-5-6-7-8-9-")
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	pt, err := ubiq.StructuredDecrypt(ctx, creds, "SSN", ct)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(pt)
}

// Example_structuredSearch demonstrates encrypt-for-search: producing one
// ciphertext per dataset key so a caller can match against values written
// under any still-valid key (spec.md §4.5).
func Example_structuredSearch() {
	ctx := context.Background()

	creds, err := ubiq.NewCredentials("access-id", "sign-key", "crypto-passphrase", "", ubiq.DefaultConfiguration())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer creds.Close()

	cts, err := ubiq.StructuredEncryptForSearch(ctx, creds, "SSN", "-0-1-2-3-4-5-6-7-8-9-")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(len(cts))
}
