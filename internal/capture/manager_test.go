package capture

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipwatch.dev/sipwatch/internal/dissect"
	"sipwatch.dev/sipwatch/internal/packet"
	"sipwatch.dev/sipwatch/internal/sipnet"
)

// fakeInput lets the test inject RawPackets directly, bypassing any real
// device/file/HEP socket, to exercise the manager's worker loop in
// isolation.
type fakeInput struct {
	name   string
	mode   Mode
	queue  []RawPacket
	out    chan<- RawPacket
	onFail func(error)
}

func (f *fakeInput) Name() string           { return f.name }
func (f *fakeInput) Mode() Mode             { return f.mode }
func (f *fakeInput) Stats() Stats           { return Stats{Mode: f.mode} }
func (f *fakeInput) SetFilter(string) error { return nil }
func (f *fakeInput) SetFailureHandler(onFail func(error)) {
	f.onFail = onFail
}
func (f *fakeInput) Start(out chan<- RawPacket) error {
	f.out = out
	go func() {
		for _, p := range f.queue {
			out <- p
		}
	}()
	return nil
}
func (f *fakeInput) Stop() error { return nil }

const optionsFixture = "OPTIONS sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKping\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"Call-ID: ping-1@example.com\r\n" +
	"CSeq: 1 OPTIONS\r\n" +
	"Content-Length: 0\r\n" +
	"\r\n"

func TestManagerDissectsHEPStyleEntryAndConsumes(t *testing.T) {
	chain := dissect.NewDefaultChain(dissect.Config{}, logrus.NewEntry(logrus.StandardLogger()))
	m := NewManager(chain, nil)

	var mu sync.Mutex
	var consumed []*packet.Packet
	m.Consume = func(pkt *packet.Packet) bool {
		mu.Lock()
		consumed = append(consumed, pkt)
		mu.Unlock()
		return true
	}

	src := sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5060)
	dst := sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)
	fi := &fakeInput{name: "fake", mode: ModeHEP, queue: []RawPacket{{
		Monotonic: time.Now(), Wall: time.Now(),
		Data: []byte(optionsFixture), Start: packet.ProtocolSIP,
		Addrs: sipnet.Pair{Src: src, Dst: dst},
	}}}
	m.AddInput(fi)

	require.NoError(t, m.Start())
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(consumed) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, consumed[0].Has(packet.ProtocolSIP))
}

// TestManagerPauseDropsPackets covers the opt-in PauseDropIncoming mode:
// SetPauseMode(PauseDropIncoming) before pausing discards every packet
// read while paused instead of storing it.
func TestManagerPauseDropsPackets(t *testing.T) {
	chain := dissect.NewDefaultChain(dissect.Config{}, logrus.NewEntry(logrus.StandardLogger()))
	m := NewManager(chain, nil)
	m.SetPauseMode(PauseDropIncoming)
	m.SetPause(true)

	var mu sync.Mutex
	var count int
	m.Consume = func(*packet.Packet) bool {
		mu.Lock()
		count++
		mu.Unlock()
		return true
	}

	src := sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5060)
	dst := sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)
	fi := &fakeInput{name: "fake", mode: ModeHEP, queue: []RawPacket{{
		Data: []byte(optionsFixture), Start: packet.ProtocolSIP,
		Addrs: sipnet.Pair{Src: src, Dst: dst},
	}}}
	m.AddInput(fi)
	require.NoError(t, m.Start())
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

// TestManagerPauseStatusOnlyStillConsumes covers the default PauseStatusOnly
// mode (spec.md §8 scenario 6): pause is a UI-visible flag only, so every
// packet ingested while paused still reaches Consume.
func TestManagerPauseStatusOnlyStillConsumes(t *testing.T) {
	chain := dissect.NewDefaultChain(dissect.Config{}, logrus.NewEntry(logrus.StandardLogger()))
	m := NewManager(chain, nil)
	m.SetPause(true)
	assert.True(t, m.Paused())

	var mu sync.Mutex
	var count int
	m.Consume = func(*packet.Packet) bool {
		mu.Lock()
		count++
		mu.Unlock()
		return true
	}

	src := sipnet.NewAddress(netip.MustParseAddr("10.0.0.1"), 5060)
	dst := sipnet.NewAddress(netip.MustParseAddr("10.0.0.2"), 5060)
	fi := &fakeInput{name: "fake", mode: ModeHEP, queue: []RawPacket{{
		Data: []byte(optionsFixture), Start: packet.ProtocolSIP,
		Addrs: sipnet.Pair{Src: src, Dst: dst},
	}}}
	m.AddInput(fi)
	require.NoError(t, m.Start())
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestManagerWiresInputFailureHandler(t *testing.T) {
	chain := dissect.NewDefaultChain(dissect.Config{}, logrus.NewEntry(logrus.StandardLogger()))
	m := NewManager(chain, nil)

	var mu sync.Mutex
	var gotName string
	var gotErr error
	m.OnInputFailed = func(name string, err error) {
		mu.Lock()
		gotName, gotErr = name, err
		mu.Unlock()
	}

	fi := &fakeInput{name: "fake-failing"}
	m.AddInput(fi)
	require.NoError(t, m.Start())
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fi.onFail != nil
	}, time.Second, 5*time.Millisecond)

	fi.onFail(assert.AnError)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "fake-failing", gotName)
	assert.Equal(t, assert.AnError, gotErr)
}
