// Package dissect implements the composable dissection chain of spec.md
// §4.C3: each Dissector consumes a byte slice, attaches structured data to a
// Packet under its protocol-id, and returns the remainder for the next
// dissector, or nil to end the chain. The chain itself is a DAG rooted at
// the link-layer dissector, modeled as the teacher's
// internal/otus/capture/codec gopacket.DecodingLayerParser pipeline
// generalized into an explicit graph of registered Dissectors.
package dissect

import (
	"errors"

	"github.com/sirupsen/logrus"

	"sipwatch.dev/sipwatch/internal/packet"
)

// ErrDrop signals that the current packet should be dropped cleanly: the
// chain ends, no error is propagated to the capture input, and, unlike any
// other error, it is not counted in DroppedCount (spec.md §4.C3).
var ErrDrop = errors.New("dissect: drop packet")

// Dissector is the polymorphic contract every protocol layer implements.
type Dissector interface {
	// ID returns this dissector's stable protocol identity.
	ID() packet.ProtocolID
	// Name is the human-readable protocol name, e.g. "sip".
	Name() string
	// Dissect parses one layer from in, attaches its data to pkt, and
	// returns the remaining bytes for the next dissector. Returning
	// (nil, nil) ends the chain cleanly. Returning a non-nil error (other
	// than ErrDrop) also ends the chain, but the caller counts it as a
	// decode failure.
	Dissect(pkt *packet.Packet, in []byte) (out []byte, err error)
}

// Next chooses the next dissector to run given the packet dissected so far
// and the bytes about to be handed to it. Implementations inspect port
// numbers or magic bytes (spec.md §4.C3 "a dissector chooses its successor").
type Next func(pkt *packet.Packet, in []byte) (child packet.ProtocolID, ok bool)

// node is one entry in the chain graph: a Dissector plus the function that
// picks its successor among registered children.
type node struct {
	dissector Dissector
	next      Next
}

// Chain is a DAG of Dissectors rooted at a single entry point, with a
// per-node successor-selection function. It is not safe for concurrent use
// by multiple goroutines running Run simultaneously: the drop counters and
// the TCP reassembly state are not locked (only the IPv4 reassembler has a
// lock of its own).
type Chain struct {
	root    packet.ProtocolID
	nodes   map[packet.ProtocolID]node
	dropped map[packet.ProtocolID]uint64
	log     *logrus.Entry
}

// NewChain creates an empty Chain rooted at root.
func NewChain(root packet.ProtocolID, log *logrus.Entry) *Chain {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Chain{
		root:    root,
		nodes:   make(map[packet.ProtocolID]node),
		dropped: make(map[packet.ProtocolID]uint64),
		log:     log,
	}
}

// Register adds a Dissector to the chain with its successor-selection
// function. next may be nil for a leaf dissector (e.g. SDP).
func (c *Chain) Register(d Dissector, next Next) {
	c.nodes[d.ID()] = node{dissector: d, next: next}
}

// DroppedCount returns how many packets a given protocol stage has dropped
// due to a parse error, for observability.
func (c *Chain) DroppedCount(id packet.ProtocolID) uint64 {
	return c.dropped[id]
}

// Run dissects in starting at the chain's root, mutating pkt in place.
// Per spec.md §4.C3, a parse error never propagates to the capture input:
// Run returns nothing, and the failure is counted internally (see
// DroppedCount).
func (c *Chain) Run(pkt *packet.Packet, in []byte) {
	c.runFrom(c.root, pkt, in)
}

// RunFrom dissects in starting at a specific protocol-id, used when the
// capture input already knows the first layer (e.g. a HEP listener that
// synthesizes an already-decoded transport header).
func (c *Chain) RunFrom(start packet.ProtocolID, pkt *packet.Packet, in []byte) {
	c.runFrom(start, pkt, in)
}

func (c *Chain) runFrom(id packet.ProtocolID, pkt *packet.Packet, in []byte) {
	for {
		n, ok := c.nodes[id]
		if !ok {
			return
		}

		out, err := n.dissector.Dissect(pkt, in)
		if err != nil {
			if !errors.Is(err, ErrDrop) {
				c.dropped[id]++
				c.log.WithError(err).WithField("protocol", n.dissector.Name()).Debug("dissect: decode error, dropping packet")
			}
			return
		}
		if out == nil {
			return
		}
		if n.next == nil {
			return
		}
		childID, ok := n.next(pkt, out)
		if !ok {
			return
		}
		id, in = childID, out
	}
}
