package dissect

import (
	"fmt"
	"net"
	"net/netip"
)

// addrFromIPv4 converts a 4-byte net.IP into a netip.Addr.
func addrFromIPv4(ip net.IP) (netip.Addr, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return netip.Addr{}, fmt.Errorf("dissect: not an IPv4 address: %v", ip)
	}
	var b [4]byte
	copy(b[:], ip4)
	return netip.AddrFrom4(b), nil
}

// sipnetAddrFromBytes converts a net.IP (4 or 16 bytes) into a netip.Addr.
func sipnetAddrFromBytes(ip net.IP) (netip.Addr, error) {
	if v4 := ip.To4(); v4 != nil {
		return addrFromIPv4(v4)
	}
	v16 := ip.To16()
	if v16 == nil {
		return netip.Addr{}, fmt.Errorf("dissect: invalid IP address: %v", ip)
	}
	var b [16]byte
	copy(b[:], v16)
	return netip.AddrFrom16(b), nil
}
