package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sipwatch.dev/sipwatch/internal/dissect"
	"sipwatch.dev/sipwatch/internal/packet"
)

// State is the manager's lifecycle state (spec.md §4.C10).
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PauseMode resolves spec.md §8 scenario 6's open choice between treating
// pause as a UI-visible flag only, or as an actual drop of incoming
// packets (SPEC_FULL.md §12 Open Questions: default is StatusOnly).
type PauseMode int

const (
	// PauseStatusOnly keeps dissecting and storing every packet while
	// paused; only is_paused()/StatusDesc reflect the pause.
	PauseStatusOnly PauseMode = iota
	// PauseDropIncoming drops every RawPacket read while paused instead of
	// dissecting it.
	PauseDropIncoming
)

// Manager owns the inputs/outputs and runs the single-worker event loop
// that dissects every RawPacket and hands finished packets to Consume
// (spec.md §4.C10, §5). It is not a singleton, callers construct and pass
// it explicitly, per the redesign's removal of the teacher's
// package-level otus.go global.
type Manager struct {
	mu      sync.Mutex
	inputs  []Input
	outputs []Output
	chain   dissect.Built
	log     *logrus.Entry

	// Consume receives every packet that made it through the chain (i.e.
	// the chain did not end in a drop) and reports whether it took
	// ownership of pkt. When it returns false (or is nil), the manager
	// destroys pkt itself. Typically wired to (*callstore.Store).Ingest.
	Consume func(pkt *packet.Packet) bool
	// OnInputFailed is notified when an input's reader goroutine ends
	// (device unplugged; a file reaching EOF is NOT a failure, see
	// FileInput.Start).
	OnInputFailed func(name string, err error)

	state     State
	paused    bool
	pauseMode PauseMode
	filter    string
	settleEvery time.Duration

	merged  chan RawPacket
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a Manager wired with the given dissection chain.
func NewManager(chain dissect.Built, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{chain: chain, log: log, settleEvery: 250 * time.Millisecond}
}

// AddInput registers an input. Only valid before Start.
func (m *Manager) AddInput(in Input) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
}

// AddOutput registers an output. Only valid before Start.
func (m *Manager) AddOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
}

// SetPause toggles the global pause flag (spec.md §4.C10). Under the
// default PauseStatusOnly mode, inputs keep flowing into storage and only
// is_paused()/StatusDesc observe the flag (spec.md §8 scenario 6: "pause
// is a UI-visible flag, not a drop"). Under PauseDropIncoming (set via
// SetPauseMode), the worker still drains inputs so they never block, but
// discards every RawPacket instead of dissecting it.
func (m *Manager) SetPause(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
}

// Paused reports the current pause state.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// SetPauseMode selects what SetPause(true) actually does (SPEC_FULL.md
// §12 Open Questions: default PauseStatusOnly).
func (m *Manager) SetPauseMode(mode PauseMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseMode = mode
}

func (m *Manager) shouldDropWhilePaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused && m.pauseMode == PauseDropIncoming
}

// SetFilter applies expr to every registered input. If any input rejects
// it, the previously-applied filter is left in place everywhere (spec.md
// §4.C8: "failure leaves the previous filter intact").
func (m *Manager) SetFilter(expr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied := make([]Input, 0, len(m.inputs))
	for _, in := range m.inputs {
		if err := in.SetFilter(expr); err != nil {
			for _, rollback := range applied {
				_ = rollback.SetFilter(m.filter)
			}
			return fmt.Errorf("capture: filter rejected by %s: %w", in.Name(), err)
		}
		applied = append(applied, in)
	}
	m.filter = expr
	return nil
}

// Start opens every input and launches the single worker goroutine.
// Invariant: after Stop returns, no dissected packet reaches storage
// (spec.md §4.C10).
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		return fmt.Errorf("capture: manager already running")
	}

	m.merged = make(chan RawPacket, 1024)
	m.stopCh = make(chan struct{})

	for _, in := range m.inputs {
		if fr, ok := in.(FailureReporter); ok {
			name := in.Name()
			fr.SetFailureHandler(func(err error) {
				if m.OnInputFailed != nil {
					m.OnInputFailed(name, err)
				}
			})
		}
		if err := in.Start(m.merged); err != nil {
			return fmt.Errorf("capture: start input %s: %w", in.Name(), err)
		}
	}

	m.wg.Add(1)
	go m.worker()

	m.state = StateRunning
	return nil
}

// Stop closes every input's event source, closes every output, ends the
// worker, and joins it before returning.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopped
	inputs := append([]Input(nil), m.inputs...)
	outputs := append([]Output(nil), m.outputs...)
	m.mu.Unlock()

	for _, in := range inputs {
		_ = in.Stop()
	}
	close(m.stopCh)
	m.wg.Wait()

	for _, out := range outputs {
		_ = out.Close()
	}
	return nil
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LoadProgress is (Σ loaded)/(Σ total) × 100 over every offline input, or
// -1 ("unknown") if no offline input has a known total (spec.md §4.C10).
func (m *Manager) LoadProgress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var loaded, total int64
	for _, in := range m.inputs {
		st := in.Stats()
		if st.Mode != ModeOffline {
			continue
		}
		loaded += st.LoadedSize
		total += st.TotalSize
	}
	if total == 0 {
		return -1
	}
	return float64(loaded) / float64(total) * 100
}

// StatusDesc summarizes the input modes and loading/paused state for
// display, per spec.md §4.C10.
func (m *Manager) StatusDesc() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return "paused"
	}
	if m.state != StateRunning {
		return m.state.String()
	}

	var live, offline, hepCount int
	for _, in := range m.inputs {
		switch in.Mode() {
		case ModeLive:
			live++
		case ModeOffline:
			offline++
		case ModeHEP:
			hepCount++
		}
	}
	switch {
	case offline > 0 && live == 0 && hepCount == 0:
		return "loading trace file"
	case live > 0 && offline == 0 && hepCount == 0:
		return "capturing live"
	case hepCount > 0 && live == 0 && offline == 0:
		return "receiving HEP"
	default:
		return "capturing (mixed sources)"
	}
}

// worker is the single goroutine that dissects every RawPacket and writes
// finished packets to outputs/Consume. No other goroutine touches the
// dissection chain's stateful reassemblers or calls Consume (spec.md §5).
func (m *Manager) worker() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.settleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.drainRemaining()
			return
		case raw, ok := <-m.merged:
			if !ok {
				return
			}
			m.process(raw)
		case now := <-ticker.C:
			m.settle(now)
		}
	}
}

// drainRemaining processes whatever is already buffered in merged without
// blocking, so a Stop() issued mid-burst doesn't drop packets inputs had
// already committed to the channel before closing.
func (m *Manager) drainRemaining() {
	for {
		select {
		case raw := <-m.merged:
			m.process(raw)
		default:
			return
		}
	}
}

func (m *Manager) process(raw RawPacket) {
	if m.shouldDropWhilePaused() {
		return
	}

	pkt := packet.New(raw.Monotonic, raw.Wall)
	pkt.AddFrame(raw.Data)
	if raw.Start == packet.ProtocolLink {
		m.chain.Chain.Run(pkt, raw.Data)
	} else {
		pkt.Addrs = raw.Addrs
		m.chain.Chain.RunFrom(raw.Start, pkt, raw.Data)
	}

	if !pkt.Has(packet.ProtocolSIP) {
		pkt.Destroy()
		return
	}

	for _, out := range m.outputsSnapshot() {
		if err := out.Write(pkt); err != nil {
			m.log.WithError(err).WithField("output", out.Name()).Warn("capture: output write failed")
		}
	}
	if m.Consume == nil || !m.Consume(pkt) {
		pkt.Destroy()
	}
}

func (m *Manager) outputsSnapshot() []Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Output(nil), m.outputs...)
}

// settle runs the periodic reassembly housekeeping: releasing TCP segments
// that never gained a confirming neighbor, and discarding IPv4 fragment
// buffers that timed out (spec.md §4.C4).
func (m *Manager) settle(now time.Time) {
	drop := m.shouldDropWhilePaused()
	for _, flow := range m.chain.TCP.SettleStale(now) {
		if drop {
			continue
		}
		pkt := packet.New(now, now)
		pkt.Addrs = flow.Addrs
		m.chain.Chain.RunFrom(packet.ProtocolSIP, pkt, flow.Bytes)
		if !pkt.Has(packet.ProtocolSIP) || m.Consume == nil || !m.Consume(pkt) {
			pkt.Destroy()
		}
	}
	m.chain.IPv4.Reassembler.Sweep(now)
}
