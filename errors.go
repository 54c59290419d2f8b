// Package ubiq is a client library for application-layer data encryption
// against the Ubiq Security key-management service: unstructured
// AES-256-GCM encryption and format-preserving (FF1) structured encryption,
// both backed by per-request RSA-wrapped data keys and an asynchronous
// usage-billing reporter. See credentials.go for the entry point.
package ubiq

import (
	"errors"

	"github.com/ubiqsecurity/ubiq-go/internal/errs"
)

// Kind identifies one of the exhaustive error categories a caller can match
// against with errors.Is(err, ubiq.KindCrypto) (spec §7).
type Kind = errs.Kind

const (
	KindCredentialsMissing = errs.KindCredentialsMissing
	KindConfigInvalid      = errs.KindConfigInvalid
	KindTransport          = errs.KindTransport
	KindAuthentication     = errs.KindAuthentication
	KindCrypto             = errs.KindCrypto
	KindInvalidInputChar   = errs.KindInvalidInputChar
	KindInvalidLength      = errs.KindInvalidLength
	KindInvalidHeader      = errs.KindInvalidHeader
	KindQuotaExceeded      = errs.KindQuotaExceeded
	KindIllegalState       = errs.KindIllegalState
	KindUnsupportedAlgo    = errs.KindUnsupportedAlgo
	KindFormatMismatch     = errs.KindFormatMismatch
)

// Error is the concrete error type every operation in this module returns.
// Use errors.As to recover transport details (URL/Status/Reason/Body) for
// KindTransport/KindAuthentication failures.
type Error = errs.Error

// Is reports whether err (or any error it wraps) is of the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
