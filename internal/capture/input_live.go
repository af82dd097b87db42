package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
)

// LiveInput captures from a network device via libpcap. Mode is always
// ModeLive: total/loaded stay at zero and the source cannot be rewound
// (spec.md §4.C8).
type LiveInput struct {
	Device  string
	Snaplen int32
	Promisc bool
	Timeout time.Duration

	log *logrus.Entry

	mu       sync.Mutex
	handle   *pcap.Handle
	stopping atomic.Bool
	onFail   func(error)
}

// NewLiveInput creates a live device input. Snaplen defaults to 65535,
// Timeout to pcap.BlockForever's zero-poll equivalent of 1s.
func NewLiveInput(device string, log *logrus.Entry) *LiveInput {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LiveInput{Device: device, Snaplen: 65535, Promisc: true, Timeout: time.Second, log: log}
}

func (i *LiveInput) Name() string { return "live:" + i.Device }
func (i *LiveInput) Mode() Mode   { return ModeLive }
func (i *LiveInput) Stats() Stats { return Stats{Mode: ModeLive} }

// SetFailureHandler registers the callback invoked if the reader
// goroutine ends due to a real error rather than Stop().
func (i *LiveInput) SetFailureHandler(onFail func(error)) {
	i.mu.Lock()
	i.onFail = onFail
	i.mu.Unlock()
}

func (i *LiveInput) SetFilter(expr string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.handle == nil {
		return fmt.Errorf("capture: %s not open yet", i.Name())
	}
	return i.handle.SetBPFFilter(expr)
}

func (i *LiveInput) Start(out chan<- RawPacket) error {
	handle, err := pcap.OpenLive(i.Device, i.Snaplen, i.Promisc, i.Timeout)
	if err != nil {
		return fmt.Errorf("capture: open live device %s: %w", i.Device, err)
	}
	i.mu.Lock()
	i.handle = handle
	i.mu.Unlock()

	go func() {
		for {
			data, ci, err := handle.ReadPacketData()
			if err != nil {
				if err == pcap.NextErrorTimeoutExpired {
					continue
				}
				i.mu.Lock()
				onFail := i.onFail
				i.mu.Unlock()
				if !i.stopping.Load() && onFail != nil {
					onFail(err)
				}
				return // handle closed or device gone
			}
			out <- RawPacket{Monotonic: ci.Timestamp, Wall: ci.Timestamp, Data: data}
		}
	}()
	return nil
}

func (i *LiveInput) Stop() error {
	i.stopping.Store(true)
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.handle != nil {
		i.handle.Close()
		i.handle = nil
	}
	return nil
}
