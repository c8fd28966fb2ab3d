package catalog

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why a catalog fetch could not produce a usable index.
type FailureKind int

const (
	// FailureNetwork covers name resolution failures and any other error
	// reaching the repository, including unexpected HTTP statuses.
	FailureNetwork FailureKind = iota
	// FailureTransportSecurity covers TLS handshake and certificate
	// validation errors.
	FailureTransportSecurity
	// FailureIntegrity covers index signature verification failures.
	FailureIntegrity
	// FailureMalformed covers syntactically or semantically invalid index
	// payloads.
	FailureMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network failure"
	case FailureTransportSecurity:
		return "transport security failure"
	case FailureIntegrity:
		return "integrity failure"
	case FailureMalformed:
		return "malformed index"
	default:
		return "unknown failure"
	}
}

// FetchError wraps a catalog fetch failure together with its classification.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(kind FailureKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// Classify returns the failure kind recorded on err. Errors carrying no
// classification default to FailureNetwork, the broadest bucket.
func Classify(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureNetwork
}

// classifyTransport maps a raw round-trip error onto the failure taxonomy.
// Certificate and TLS record errors are reported as transport security
// failures, everything else as a network failure.
func classifyTransport(err error) *FetchError {
	var (
		dnsErr       *net.DNSError
		unknownAuth  x509.UnknownAuthorityError
		hostname     x509.HostnameError
		certInvalid  x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
		certVerify   *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &unknownAuth),
		errors.As(err, &hostname),
		errors.As(err, &certInvalid),
		errors.As(err, &recordHeader),
		errors.As(err, &certVerify):
		return newFetchError(FailureTransportSecurity, err)
	case errors.As(err, &dnsErr):
		return newFetchError(FailureNetwork, err)
	default:
		return newFetchError(FailureNetwork, err)
	}
}
