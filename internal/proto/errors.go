package proto

import "errors"

// Error kinds surfaced by handlers. They reach the remote peer only as a
// boolean failure flag; the full error goes to the local log.
var (
	ErrSchemaInvalid    = errors.New("invalid schema")
	ErrUnauthenticated  = errors.New("connection not identified")
	ErrIdentityMismatch = errors.New("user does not match connection identity")
	ErrNotLoggedIn      = errors.New("user not logged in")
	ErrExcessIdentity   = errors.New("identity already bound to another connection")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrCannotForward    = errors.New("can't forward: peer not connected")
)
