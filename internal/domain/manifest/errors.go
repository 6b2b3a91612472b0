package manifest

import "errors"

var (
	// ErrParse marks every malformed or unsupported descriptor.
	ErrParse = errors.New("malformed manifest")
	// ErrUnsupportedVersion is returned for a version other than 1 or 2.
	ErrUnsupportedVersion = errors.New("unsupported manifest version")
	// ErrInvalidType is returned when the type is neither primary nor secondary.
	ErrInvalidType = errors.New("invalid manifest type")
	// ErrSignatureMismatch is returned when a signature does not match the manifest contents.
	ErrSignatureMismatch = errors.New("signature check failed, contents appear to have been modified")
	// ErrKeyMismatch is returned when a private key does not belong to the manifest public key.
	ErrKeyMismatch = errors.New("private key does not match the manifest public key")
	// ErrStaleSignature is returned when serializing a signature that no longer matches the contents.
	ErrStaleSignature = errors.New("signature is stale, re-sign before serializing")

	errMissingSets          = errors.New("sets are required")
	errSignatureWithoutKey  = errors.New("signature requires pubkey")
	errUnknownFormat        = errors.New("unknown descriptor format")
	errPublicKeyUnavailable = errors.New("public key cannot be derived from the private key")
)
