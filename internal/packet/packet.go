// Package packet implements the Packet accumulator (spec.md §3, §4.C7): it
// carries raw frame bytes plus a progressively populated per-protocol data
// table as the dissection chain consumes the packet.
package packet

import (
	"time"

	"sipwatch.dev/sipwatch/internal/sipnet"
)

// ProtocolID identifies one layer of dissected data attached to a Packet.
// Stable across the lifetime of the process; used as the map key for the
// typed per-dissector slot table described in spec.md §9.
type ProtocolID int

const (
	ProtocolLink ProtocolID = iota
	ProtocolIPv4
	ProtocolIPv6
	ProtocolUDP
	ProtocolTCP
	ProtocolTLS
	ProtocolSIP
	ProtocolSDP
)

// FreeFunc releases protocol data owned by a dissector when a Packet is
// destroyed (spec.md §4.C3 free_data).
type FreeFunc func(data any)

// Packet is created on ingestion of one captured frame, handed through the
// dissection chain, and either attached to a Call message or dropped.
// Ownership transfers at each stage; a Packet attached to a Call message is
// owned by that Call (spec.md §3).
type Packet struct {
	Monotonic time.Time // capture timestamp of the frame; not checked to be increasing
	Wall      time.Time // wall-clock timestamp from the capture source

	Addrs sipnet.Pair // populated once IP/UDP/TCP are dissected

	// Frames holds every raw byte slice that contributed to this Packet, in
	// the order they were captured, supporting re-serialization to a trace
	// file (e.g. for a save-to-file collaborator outside the core).
	Frames [][]byte

	data  map[ProtocolID]any
	free  map[ProtocolID]FreeFunc
}

// New creates an empty Packet stamped with the given timestamps.
func New(monotonic, wall time.Time) *Packet {
	return &Packet{
		Monotonic: monotonic,
		Wall:      wall,
		data:      make(map[ProtocolID]any),
	}
}

// AddFrame appends a raw frame slice contributing to this packet.
func (p *Packet) AddFrame(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	p.Frames = append(p.Frames, cp)
}

// Set attaches protocol data under id, with an optional free function
// invoked on Destroy.
func (p *Packet) Set(id ProtocolID, data any, free FreeFunc) {
	p.data[id] = data
	if free != nil {
		if p.free == nil {
			p.free = make(map[ProtocolID]FreeFunc)
		}
		p.free[id] = free
	}
}

// Get returns the protocol data attached under id, if any.
func (p *Packet) Get(id ProtocolID) (any, bool) {
	v, ok := p.data[id]
	return v, ok
}

// Has reports whether protocol data is attached under id.
func (p *Packet) Has(id ProtocolID) bool {
	_, ok := p.data[id]
	return ok
}

// Destroy walks every attached slot and invokes its free function, then
// releases the slot table. Call exactly once, when the Packet is no longer
// reachable from any Call.
func (p *Packet) Destroy() {
	for id, data := range p.data {
		if free, ok := p.free[id]; ok {
			free(data)
		}
	}
	p.data = nil
	p.free = nil
	p.Frames = nil
}
