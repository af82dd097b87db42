// Package capture implements the capture input/output/manager components
// (spec.md §4.C8/C9/C10): live and offline packet sources, HEP forwarding,
// and the single-worker event loop that drives the dissection chain.
//
// Grounded on the teacher's internal/otus/capture/sniffer (handle factory,
// one reader goroutine per source feeding a decoder) and internal/otus/otus.go
// (owns inputs/outputs, pause flag, start/stop lifecycle), adapted so that
// every input's reader goroutine only reads raw bytes, dissection and
// storage mutation happen exclusively on the manager's single worker
// goroutine (spec.md §5).
package capture

import (
	"time"

	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// Mode classifies how an input sources packets (spec.md §4.C8).
type Mode int

const (
	ModeLive Mode = iota
	ModeOffline
	ModeHEP
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeOffline:
		return "offline"
	case ModeHEP:
		return "hep"
	default:
		return "unknown"
	}
}

// Stats reports an input's progress, per spec.md §4.C8's
// "{mode, total_size, loaded_size}" contract. TotalSize/LoadedSize are
// always 0 for a live input ("cannot be rewound", no notion of total).
type Stats struct {
	Mode       Mode
	TotalSize  int64
	LoadedSize int64
}

// RawPacket is one frame handed from an input's reader goroutine to the
// manager's worker, before any dissection has happened.
type RawPacket struct {
	Monotonic time.Time
	Wall      time.Time
	Data      []byte

	// Start is the protocol-id the dissection chain should begin at.
	// Zero (packet.ProtocolLink) for anything read off the wire or a trace
	// file; packet.ProtocolSIP for a HEP listener, which has already
	// resolved the original endpoints and only carries the SIP payload.
	Start packet.ProtocolID
	Addrs sipnet.Pair // only meaningful when Start != packet.ProtocolLink
}

// Input is one packet source feeding the manager (spec.md §4.C8).
type Input interface {
	Name() string
	Mode() Mode
	Stats() Stats

	// SetFilter applies a BPF filter expression. Failure leaves the
	// previously-applied filter (if any) intact.
	SetFilter(expr string) error

	// Start opens the source and begins pushing RawPackets into out from a
	// dedicated reader goroutine. It returns once the source is open; read
	// errors end the goroutine silently (observable via Stats/failure
	// callbacks wired by the manager).
	Start(out chan<- RawPacket) error

	// Stop closes the underlying source, unblocking and ending the reader
	// goroutine.
	Stop() error
}

// FailureReporter is implemented by inputs whose reader goroutine can end
// abnormally (a device unplugged, a socket error) as distinct from a
// clean Stop() or an offline file's expected EOF. Manager calls
// SetFailureHandler, if the input implements this, before Start so every
// abnormal exit reaches Manager.OnInputFailed.
type FailureReporter interface {
	SetFailureHandler(onFail func(error))
}
