package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Every sentinel below wraps exactly one of them so callers can
// classify with errors.Is.
var (
	ErrConfiguration     = errors.New("protocol: configuration error")
	ErrProtocolViolation = errors.New("protocol: protocol violation")
)

var (
	ErrNotRegistered     = fmt.Errorf("%w: message type not registered", ErrConfiguration)
	ErrNoOriginator      = fmt.Errorf("%w: originator not registered", ErrConfiguration)
	ErrInvalidContract   = fmt.Errorf("%w: invalid message contract", ErrConfiguration)
	ErrRegistryFrozen    = fmt.Errorf("%w: registry frozen", ErrConfiguration)
	ErrRegistryNotFrozen = fmt.Errorf("%w: registry not frozen", ErrConfiguration)
	ErrTypeConflict      = fmt.Errorf("%w: type name registered with a different contract", ErrConfiguration)
	ErrTooManyIDs        = fmt.Errorf("%w: wire id space exhausted", ErrConfiguration)

	ErrTruncated           = fmt.Errorf("%w: truncated envelope", ErrProtocolViolation)
	ErrIDOutOfRange        = fmt.Errorf("%w: id does not fit wire width", ErrProtocolViolation)
	ErrUnknownType         = fmt.Errorf("%w: unknown message type id", ErrProtocolViolation)
	ErrUnknownOriginator   = fmt.Errorf("%w: unknown originator id", ErrProtocolViolation)
	ErrUnhandled           = fmt.Errorf("%w: message not handled", ErrProtocolViolation)
	ErrPayloadMismatch     = fmt.Errorf("%w: payload length mismatch", ErrProtocolViolation)
	ErrInterleavedFragment = fmt.Errorf("%w: interleaved fragment", ErrProtocolViolation)
	ErrFragmentTooLarge    = fmt.Errorf("%w: fragmented payload too large", ErrProtocolViolation)
	ErrBadFragment         = fmt.Errorf("%w: malformed fragment frame", ErrProtocolViolation)
)

// IsFatal reports whether err belongs to one of the two fatal classes.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrProtocolViolation)
}

// ViolationError carries dispatch context for a protocol violation.
type ViolationError struct {
	Peer   uint8
	TypeID uint16
	Type   string
	Err    error
}

func (e ViolationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: peer=%d type_id=%d: %v", e.Peer, e.TypeID, e.Err)
	}
	return fmt.Sprintf("protocol: peer=%d type=%s(%d): %v", e.Peer, e.Type, e.TypeID, e.Err)
}

func (e ViolationError) Unwrap() error {
	return e.Err
}
