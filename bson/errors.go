package bson

import "github.com/pkg/errors"

var (
	// ErrMalformedDocument is the cause of every decode failure:
	// truncated buffers, bad length prefixes, unrecognized element
	// types, and structurally invalid nested documents.
	ErrMalformedDocument = errors.New("malformed bson document")

	// ErrUnexpectedEOS indicates a multi-document stream ended before
	// the bytes its last length prefix declared.
	ErrUnexpectedEOS = errors.New("unexpected end of bson stream")

	// ErrUnencodableValue indicates a value with no BSON representation
	// was passed to the encoder.
	ErrUnencodableValue = errors.New("value cannot be encoded as bson")

	// ErrInvalidObjectID indicates a string that is not 24 hex
	// characters was passed to ObjectIDFromHex.
	ErrInvalidObjectID = errors.New("invalid object id")
)

func IsMalformedDocument(err error) bool {
	return errors.Cause(err) == ErrMalformedDocument
}

func IsUnexpectedEOS(err error) bool {
	return errors.Cause(err) == ErrUnexpectedEOS
}

func IsUnencodableValue(err error) bool {
	return errors.Cause(err) == ErrUnencodableValue
}

func IsInvalidObjectID(err error) bool {
	return errors.Cause(err) == ErrInvalidObjectID
}
