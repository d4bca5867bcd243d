// Package engine implements the BIB and session state-tracking tables at
// the heart of a stateful NAT64 translator: ordered indexing, intrusive
// reference-counted ownership, and timer-driven expiry.
package engine

import (
	"bytes"
	"net/netip"
)

// L4Proto is the closed set of transport protocols the engine tracks.
// Each protocol owns an independent BIB table and session table pair;
// tables never mix protocols.
type L4Proto uint8

const (
	ProtoTCP L4Proto = iota
	ProtoUDP
	ProtoICMP
)

func (p L4Proto) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	default:
		return "unknown"
	}
}

// TAddr is a transport address: an L3 address paired with an L4 port or
// ICMP identifier. Total ordering is lexicographic on (L3, L4), with L3
// compared as unsigned bytes in network order.
type TAddr struct {
	L3   netip.Addr
	Port uint16
}

// Compare returns -1, 0, or 1 as a orders before, equal to, or after b.
func (a TAddr) Compare(b TAddr) int {
	if c := bytes.Compare(a.L3.AsSlice(), b.L3.AsSlice()); c != 0 {
		return c
	}
	switch {
	case a.Port < b.Port:
		return -1
	case a.Port > b.Port:
		return 1
	default:
		return 0
	}
}

// PortRange is an inclusive range of L4 ports.
type PortRange struct {
	Min uint16
	Max uint16
}

// Contains reports whether port lies within the inclusive range r.
func (r PortRange) Contains(port uint16) bool {
	return port >= r.Min && port <= r.Max
}

// Prefix4Contains reports standard CIDR containment of addr within prefix.
// addr must be a 4-in-6 or pure IPv4 address; both are normalized to
// 4-byte form before the check.
func Prefix4Contains(prefix netip.Prefix, addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	return prefix.Contains(addr)
}

// Tuple4 is the 4-tuple of a session-table key on one side (v6 or v4):
// a local transport address and a remote transport address.
type Tuple4 struct {
	Local  TAddr
	Remote TAddr
}

// Compare orders tuples lexicographically by (Local, Remote), matching the
// session table's v6/v4 key ordering in spec §3.
func (t Tuple4) Compare(o Tuple4) int {
	if c := t.Local.Compare(o.Local); c != 0 {
		return c
	}
	return t.Remote.Compare(o.Remote)
}

// SessionLookupTuple is what the translator presents to SessionTable.Lookup.
// IsV6 selects which tree (v6 or v4) the dst/src pair is interpreted
// against.
type SessionLookupTuple struct {
	IsV6 bool
	Dst  TAddr // local half when IsV6 is false; inside-local when true
	Src  TAddr // remote half when IsV6 is false; inside-remote when true
}
