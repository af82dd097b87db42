// Package sipnet defines the address/endpoint value type shared by the
// dissection chain, capture inputs and call storage.
package sipnet

import (
	"fmt"
	"net/netip"
)

// Address is an IPv4 or IPv6 endpoint: an IP value plus a port. It is a pure
// value type, two Addresses are equal iff all fields are equal.
type Address struct {
	IP   netip.Addr
	Port uint16
}

// NewAddress builds an Address from a netip.Addr and port.
func NewAddress(ip netip.Addr, port uint16) Address {
	return Address{IP: ip, Port: port}
}

// IsValid reports whether the underlying IP is set.
func (a Address) IsValid() bool {
	return a.IP.IsValid()
}

// IsV6 reports whether the address family is IPv6.
func (a Address) IsV6() bool {
	return a.IP.Is6() && !a.IP.Is4In6()
}

// Equal reports whether a and other describe the same endpoint.
func (a Address) Equal(other Address) bool {
	return a.Port == other.Port && a.IP == other.IP
}

// String renders the address as "ip:port"; IPv6 literals are not bracketed
// (e.g. "::1:5060").
func (a Address) String() string {
	if !a.IP.IsValid() {
		return fmt.Sprintf(":%d", a.Port)
	}
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// AddrPort returns the netip.AddrPort view of this address.
func (a Address) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.IP, a.Port)
}

// FromAddrPort builds an Address from a netip.AddrPort.
func FromAddrPort(ap netip.AddrPort) Address {
	return Address{IP: ap.Addr(), Port: ap.Port()}
}

// WithPort returns a copy of a with its port replaced.
func WithPort(a Address, port uint16) Address {
	a.Port = port
	return a
}

// Pair is the (source, destination) endpoint pair observed on one packet.
type Pair struct {
	Src Address
	Dst Address
}

// Reversed swaps source and destination, useful for matching the reply
// direction of a flow (e.g. a response to a request).
func (p Pair) Reversed() Pair {
	return Pair{Src: p.Dst, Dst: p.Src}
}

// String renders "src -> dst".
func (p Pair) String() string {
	return fmt.Sprintf("%s -> %s", p.Src, p.Dst)
}
