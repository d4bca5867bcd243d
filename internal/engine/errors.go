package engine

import "errors"

// Error taxonomy per the error-handling design: every condition a caller
// can act on is one of these sentinels, wrapped with fmt.Errorf("%w", ...)
// for call-site context. Internal inconsistencies detected by debug
// assertions are logged and swallowed instead of being surfaced here.
var (
	// ErrNotFound is returned by lookup/contains when the key is absent.
	ErrNotFound = errors.New("engine: not found")

	// ErrAlreadyExists is returned by BibTable.Add on a v6 or v4 key
	// collision. The colliding entry, if requested, is returned alongside.
	ErrAlreadyExists = errors.New("engine: already exists")

	// ErrInvalid is returned for a malformed tuple (unknown L3 proto) or
	// a detached session queried for its expiry timeout.
	ErrInvalid = errors.New("engine: invalid argument")

	// ErrPktQueueBusy is returned by SessionTable.Add when the configured
	// PacketQueue refuses to discard the session's queued SYN.
	ErrPktQueueBusy = errors.New("engine: pktqueue busy")
)
