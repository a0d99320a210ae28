package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for the hub's failure taxonomy.
var (
	// ErrAuthenticationFailed means the credential could not be resolved to an
	// identity. The connection is closed with no session created.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAccessDenied means the identity violated a room's access policy.
	// The connection stays open and no state is mutated.
	ErrAccessDenied = errors.New("access denied")

	// ErrMalformedMessage means a frame could not be parsed or is missing its
	// type tag.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownMessageType means the frame's type tag is not part of the
	// protocol.
	ErrUnknownMessageType = errors.New("unknown message type")
)
