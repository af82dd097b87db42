package capture

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
)

// FileInput replays a pcap/pcap-ng trace file. It is a finite sequence:
// once exhausted it becomes inert but stays in the manager's input list so
// its statistics remain visible (spec.md §4.C8).
type FileInput struct {
	Path string

	log *logrus.Entry

	totalSize  int64
	loadedSize atomic.Int64

	handle   *pcap.Handle
	filter   string
	stopping atomic.Bool
	onFail   func(error)
}

func NewFileInput(path string, log *logrus.Entry) *FileInput {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FileInput{Path: path, log: log}
}

func (i *FileInput) Name() string { return "file:" + i.Path }
func (i *FileInput) Mode() Mode   { return ModeOffline }

func (i *FileInput) Stats() Stats {
	return Stats{Mode: ModeOffline, TotalSize: i.totalSize, LoadedSize: i.loadedSize.Load()}
}

// SetFailureHandler registers the callback invoked if the reader
// goroutine ends due to a real read error; reaching EOF is not a failure.
func (i *FileInput) SetFailureHandler(onFail func(error)) {
	i.onFail = onFail
}

// SetFilter records the filter and applies it immediately if already open;
// a filter set before Start is applied once the handle exists.
func (i *FileInput) SetFilter(expr string) error {
	if i.handle == nil {
		i.filter = expr
		return nil
	}
	if err := i.handle.SetBPFFilter(expr); err != nil {
		return err
	}
	i.filter = expr
	return nil
}

func (i *FileInput) Start(out chan<- RawPacket) error {
	if st, err := os.Stat(i.Path); err == nil {
		i.totalSize = st.Size()
	}

	handle, err := pcap.OpenOffline(i.Path)
	if err != nil {
		return fmt.Errorf("capture: open trace file %s: %w", i.Path, err)
	}
	i.handle = handle
	if i.filter != "" {
		if err := handle.SetBPFFilter(i.filter); err != nil {
			i.log.WithError(err).WithField("filter", i.filter).Warn("capture: stored filter rejected on open")
		}
	}

	go func() {
		defer handle.Close()
		for {
			data, ci, err := handle.ReadPacketData()
			if err != nil {
				// EOF or closed: input goes inert, Stats() keeps its last
				// values. Only a genuine mid-read error while still
				// running is reported as a failure.
				if err != io.EOF && !i.stopping.Load() && i.onFail != nil {
					i.onFail(err)
				}
				return
			}
			i.loadedSize.Add(int64(ci.CaptureLength))
			out <- RawPacket{Monotonic: ci.Timestamp, Wall: ci.Timestamp, Data: data}
		}
	}()
	return nil
}

func (i *FileInput) Stop() error {
	i.stopping.Store(true)
	if i.handle != nil {
		i.handle.Close()
	}
	return nil
}
