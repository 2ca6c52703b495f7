package apns

import (
	"github.com/pkg/errors"
)

// Configuration errors. These are returned while constructing a client and are
// never worth retrying.
var (
	ErrDecryptionFailed = errors.New("apns: unable to decrypt certificate archive")
	ErrMalformedArchive = errors.New("apns: malformed certificate archive")
	ErrMalformedKey     = errors.New("apns: malformed signing key")
	ErrInvalidTokenTTL  = errors.New("apns: invalid provider token ttl")
	ErrInvalidConfig    = errors.New("apns: invalid client config")
	ErrSigningFailed    = errors.New("apns: unable to sign provider token")
)

// Pre-flight errors. These are detected locally and no request is dispatched.
var (
	ErrMissingDeviceToken = errors.New("apns: device token is missing")
	ErrInvalidDeviceToken = errors.New("apns: device token must be hex encoded")
	ErrPayloadEmpty       = errors.New("apns: payload is empty")
	ErrPayloadTooLarge    = errors.New("apns: payload exceeds maximum size")
	ErrInvalidPriority    = errors.New("apns: invalid priority")
	ErrInvalidPushType    = errors.New("apns: invalid push type")
	ErrInvalidID          = errors.New("apns: apns-id must be a canonical uuid")
	ErrCollapseIDTooLong  = errors.New("apns: collapse id exceeds 64 bytes")
)

// Dispatch errors.
var (
	// ErrConnectionFailed indicates a connection to APNs could not be
	// established (dns, dial or tls handshake failure).
	ErrConnectionFailed = errors.New("apns: connection failed")

	// ErrTransport indicates the exchange failed after the request was handed to
	// an established connection.
	ErrTransport = errors.New("apns: transport error")

	// ErrTimeout indicates no response was received within the request timeout.
	ErrTimeout = errors.New("apns: request timed out")

	// ErrResponseParsing indicates APNs returned an error status with a body
	// that could not be understood.
	ErrResponseParsing = errors.New("apns: unable to parse response")

	// ErrClientClosed indicates the use of a Client after calling Close.
	ErrClientClosed = errors.New("apns: client closed")
)
