package server

import "errors"

// ErrTimeout is the ambient layer's sentinel for an elapsed request
// deadline, distinct from the engine package's error taxonomy (spec.md
// §7). No handler in this package currently returns it.
var ErrTimeout = errors.New("server: request deadline exceeded")

// ErrInvalidProto indicates a {proto} path parameter that doesn't name one
// of tcp, udp, icmp.
var ErrInvalidProto = errors.New("server: invalid protocol")

// ErrInvalidAddr indicates a malformed transport-address path parameter.
var ErrInvalidAddr = errors.New("server: invalid address")
