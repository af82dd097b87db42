package dissect

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// TCPDissector decodes TCP segments and reassembles them per-flow via a
// TCPReassembler before handing contiguous bytes to the next dissector
// (spec.md §4.C4).
type TCPDissector struct {
	Reassembler *TCPReassembler
	Now         func() time.Time
}

func NewTCPDissector() *TCPDissector {
	return &TCPDissector{
		Reassembler: NewTCPReassembler(0, 0),
		Now:         time.Now,
	}
}

func (TCPDissector) ID() packet.ProtocolID { return packet.ProtocolTCP }
func (TCPDissector) Name() string          { return "tcp" }

func (d *TCPDissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(in, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	applyTransportPorts(pkt, uint16(tcp.SrcPort), uint16(tcp.DstPort))

	if len(tcp.Payload) == 0 {
		// Pure control segment (SYN/ACK/FIN with no data): nothing to
		// dissect further, end the chain cleanly.
		return nil, nil
	}

	now := d.Now()
	out := d.Reassembler.Feed(pkt.Addrs.Src, pkt.Addrs.Dst, tcp.Seq, tcp.Payload, now)
	if out == nil {
		// Held for reordering/out-of-order completion; nothing ready yet.
		return nil, nil
	}
	return out, nil
}

// SettledFlow is one flow's newly-released reassembled bytes.
type SettledFlow struct {
	Addrs sipnet.Pair
	Bytes []byte
}

// SettleStale flushes any TCP flows that have sat buffered past the
// reassembler's configured window, returning the bytes to re-inject into
// the chain per flow. Called periodically by the capture manager's event
// loop (spec.md §4.C4, §5).
func (d *TCPDissector) SettleStale(now time.Time) []SettledFlow {
	raw := d.Reassembler.Settle(now)
	out := make([]SettledFlow, 0, len(raw))
	for key, bytes := range raw {
		out = append(out, SettledFlow{
			Addrs: sipnet.Pair{Src: key.src, Dst: key.dst},
			Bytes: bytes,
		})
	}
	return out
}

// TCPNext always hands off to SIP, mirroring UDPNext (spec.md §1 Non-goals:
// only SIP traffic over TCP is in scope).
func TCPNext(_ *packet.Packet, _ []byte) (packet.ProtocolID, bool) {
	return packet.ProtocolSIP, true
}
