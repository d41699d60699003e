package stix

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSTIXPackage is returned when the root element is not STIX_Package.
	ErrNotSTIXPackage = errors.New("document root is not a STIX_Package")

	// ErrEmptyDocument is returned for input without any element.
	ErrEmptyDocument = errors.New("empty document")

	// ErrUnknownVersion is returned by Upgrade for versions it cannot translate.
	ErrUnknownVersion = errors.New("unknown STIX version")

	// ErrUnsupportedCharset is returned for XML declarations naming an
	// encoding without a decoder.
	ErrUnsupportedCharset = errors.New("unsupported document charset")
)

// UnsupportedVersionError reports a well-formed package whose version is not
// LatestVersion. It is the signal to upgrade and parse again.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported STIX version %q (expected %s)", e.Version, LatestVersion)
}

// ParseError wraps any other failure to read a document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing STIX package: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Outcome tags the result of loading a document.
type Outcome string

const (
	OutcomeParsed      Outcome = "parsed"
	OutcomeUpgraded    Outcome = "upgraded"
	OutcomeUnsupported Outcome = "unsupported_version"
	OutcomeFailed      Outcome = "failed"
)

// Classify maps a Parse error to its Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeParsed
	}
	var uv *UnsupportedVersionError
	if errors.As(err, &uv) {
		return OutcomeUnsupported
	}
	return OutcomeFailed
}
