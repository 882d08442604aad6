package wire

import (
	"fmt"
	"net"
)

// Protocol identifies the transport family an Address was learned over.
// This port implements IPv4 and IPv6 since that's everything the socket
// layer actually dials.
type Protocol uint8

const (
	ProtocolIPv4 Protocol = iota
	ProtocolIPv6
)

func (p Protocol) String() string {
	if p == ProtocolIPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// Address is TNL's transport-tagged endpoint value: {protocol, host, port}.
// Two Addresses are equal iff all three fields match; SameHost ignores
// port, used when two candidate addresses from an arranged-connection
// introduction need to be recognized as the same peer on a different port.
type Address struct {
	Protocol Protocol
	Host     [16]byte // IPv4 uses the first 4 bytes; IPv6 uses all 16
	Port     uint16
}

// FromUDPAddr builds an Address from a resolved net.UDPAddr.
func FromUDPAddr(addr *net.UDPAddr) Address {
	var a Address
	if ip4 := addr.IP.To4(); ip4 != nil {
		a.Protocol = ProtocolIPv4
		copy(a.Host[:4], ip4)
	} else {
		a.Protocol = ProtocolIPv6
		copy(a.Host[:], addr.IP.To16())
	}
	a.Port = uint16(addr.Port)
	return a
}

// ToUDPAddr converts back to a net.UDPAddr for socket I/O.
func (a Address) ToUDPAddr() *net.UDPAddr {
	if a.Protocol == ProtocolIPv4 {
		return &net.UDPAddr{IP: net.IP(append([]byte{}, a.Host[:4]...)), Port: int(a.Port)}
	}
	return &net.UDPAddr{IP: net.IP(append([]byte{}, a.Host[:]...)), Port: int(a.Port)}
}

// Equal reports whether a and other name the same (protocol, host, port).
func (a Address) Equal(other Address) bool {
	return a == other
}

// SameHost reports whether a and other share a protocol and host, ignoring
// port — used to recognize the same NAT-bound peer across the different
// source ports an arranged connection's punch packets may arrive from.
func (a Address) SameHost(other Address) bool {
	return a.Protocol == other.Protocol && a.Host == other.Host
}

// Hash returns a table-bucket hash for use as a key in an open-addressed
// connection table. FNV-1a over the three fields; cheap and
// well distributed for the small, mostly-IPv4 key space a connection table
// holds.
func (a Address) Hash() uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	h = (h ^ uint32(a.Protocol)) * prime32
	for _, b := range a.Host {
		h = (h ^ uint32(b)) * prime32
	}
	h = (h ^ uint32(a.Port>>8)) * prime32
	h = (h ^ uint32(a.Port&0xFF)) * prime32
	return h
}

// String renders the address in host:port form for logging.
func (a Address) String() string {
	return fmt.Sprintf("%s", a.ToUDPAddr().String())
}
