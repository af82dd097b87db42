package capture

import (
	"fmt"
	"net"
	"sync/atomic"

	"sipwatch.dev/sipwatch/internal/capture/hep"
	"sipwatch.dev/sipwatch/internal/dissect/sipmsg"
	"sipwatch.dev/sipwatch/internal/packet"
)

// HEPOutput forwards every dissected packet to one of several HEPv3
// collectors, chosen by flow-stable hashing so a given flow always lands
// on the same collector (spec.md §4.C9, grounded on the teacher's
// plugins/reporter/hep.HEPReporter).
type HEPOutput struct {
	conns     []*net.UDPConn
	opts      hep.EncodeOptions
	captureID uint32

	sent, errors atomic.Uint64
}

// NewHEPOutput dials a UDP connection to every server up front (matching
// the teacher's Start(): connections are pre-dialed, not per-write).
func NewHEPOutput(servers []string, captureID uint32, opts hep.EncodeOptions) (*HEPOutput, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("capture: HEP output requires at least one server")
	}
	out := &HEPOutput{opts: opts, captureID: captureID}
	for _, s := range servers {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("capture: resolve HEP server %s: %w", s, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("capture: dial HEP server %s: %w", s, err)
		}
		out.conns = append(out.conns, conn)
	}
	return out, nil
}

func (o *HEPOutput) Name() string { return "hep" }

func (o *HEPOutput) Write(pkt *packet.Packet) error {
	frame := hep.Frame{
		Src:       pkt.Addrs.Src,
		Dst:       pkt.Addrs.Dst,
		Timestamp: pkt.Wall,
		ProtoType: hep.ProtoTypeSIP,
		CaptureID: o.captureID,
	}
	if data, ok := pkt.Get(packet.ProtocolSIP); ok {
		if msg, ok := data.(*sipmsg.Message); ok {
			frame.CorrelationID = msg.CallID
			frame.Payload = msg.Raw
		}
	}
	if len(frame.Payload) == 0 {
		return nil // nothing SIP-shaped was dissected; nothing to forward
	}

	encoded, err := hep.Encode(frame, o.opts)
	if err != nil {
		o.errors.Add(1)
		return fmt.Errorf("capture: encode HEP frame: %w", err)
	}

	conn := o.conns[hep.SelectServer(frame, len(o.conns))]
	if _, err := conn.Write(encoded); err != nil {
		o.errors.Add(1)
		return fmt.Errorf("capture: send HEP frame to %s: %w", conn.RemoteAddr(), err)
	}
	o.sent.Add(1)
	return nil
}

func (o *HEPOutput) Close() error {
	for _, c := range o.conns {
		if c != nil {
			_ = c.Close()
		}
	}
	o.conns = nil
	return nil
}
