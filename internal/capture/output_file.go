package capture

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"sipwatch.dev/sipwatch/internal/packet"
)

// FileOutput writes every Frames[0] (the original captured bytes) of a
// dissected packet to a pcap-ng trace file, for later offline replay
// through a FileInput (spec.md §4.C9).
type FileOutput struct {
	path string
	f    *os.File
	w    *pcapgo.NgWriter

	mu sync.Mutex
}

// NewFileOutput creates (or truncates) path and prepares a pcap-ng writer
// for the given link type.
func NewFileOutput(path string, linkType layers.LinkType) (*FileOutput, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create trace output %s: %w", path, err)
	}
	w, err := pcapgo.NewNgWriter(f, linkType)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: init pcap-ng writer: %w", err)
	}
	return &FileOutput{path: path, f: f, w: w}, nil
}

func (o *FileOutput) Name() string { return "file:" + o.path }

func (o *FileOutput) Write(pkt *packet.Packet) error {
	if len(pkt.Frames) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	raw := pkt.Frames[0]
	ci := gopacket.CaptureInfo{
		Timestamp:     pkt.Wall,
		CaptureLength: len(raw),
		Length:        len(raw),
	}
	return o.w.WritePacket(ci, raw)
}

func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Flush(); err != nil {
		o.f.Close()
		return err
	}
	return o.f.Close()
}
