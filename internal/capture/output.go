package capture

import "sipwatch.dev/sipwatch/internal/packet"

// Output is a sink a dissected packet can be written to in parallel with
// storage: a trace file or a remote HEP collector (spec.md §4.C9).
type Output interface {
	Name() string
	Write(pkt *packet.Packet) error
	Close() error
}
