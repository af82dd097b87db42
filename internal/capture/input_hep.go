package capture

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"sipwatch.dev/sipwatch/internal/capture/hep"
	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// HEPInput listens for UDP HEPv3 frames from another capture agent,
// decoding each into a RawPacket whose dissection starts directly at SIP
// with the original endpoints already resolved (spec.md §4.C8: "emitting
// synthesized packets with original endpoints preserved").
type HEPInput struct {
	ListenAddr string

	log  *logrus.Entry
	conn *net.UDPConn

	stopping atomic.Bool
	onFail   func(error)
}

func NewHEPInput(listenAddr string, log *logrus.Entry) *HEPInput {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HEPInput{ListenAddr: listenAddr, log: log}
}

func (i *HEPInput) Name() string { return "hep:" + i.ListenAddr }
func (i *HEPInput) Mode() Mode   { return ModeHEP }
func (i *HEPInput) Stats() Stats { return Stats{Mode: ModeHEP} }

// SetFilter is not meaningful for a HEP listener: the sending agent has
// already applied its own filter upstream. Returning an error here would
// violate "failure leaves the previous filter intact" for a filter that
// never existed, so this is a documented no-op success instead.
func (i *HEPInput) SetFilter(string) error { return nil }

// SetFailureHandler registers the callback invoked if the listening
// socket ends due to a real error rather than Stop().
func (i *HEPInput) SetFailureHandler(onFail func(error)) {
	i.onFail = onFail
}

func (i *HEPInput) Start(out chan<- RawPacket) error {
	addr, err := net.ResolveUDPAddr("udp", i.ListenAddr)
	if err != nil {
		return fmt.Errorf("capture: resolve HEP listen address %s: %w", i.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("capture: listen HEP %s: %w", i.ListenAddr, err)
	}
	i.conn = conn

	go func() {
		buf := make([]byte, 65535)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if !i.stopping.Load() && i.onFail != nil {
					i.onFail(err)
				}
				return
			}
			frame, err := hep.Decode(buf[:n])
			if err != nil {
				i.log.WithError(err).Debug("capture: dropping malformed HEP frame")
				continue
			}
			out <- RawPacket{
				Monotonic: frame.Timestamp,
				Wall:      frame.Timestamp,
				Data:      frame.Payload,
				Start:     packet.ProtocolSIP,
				Addrs:     sipnet.Pair{Src: frame.Src, Dst: frame.Dst},
			}
		}
	}()
	return nil
}

func (i *HEPInput) Stop() error {
	i.stopping.Store(true)
	if i.conn != nil {
		return i.conn.Close()
	}
	return nil
}
