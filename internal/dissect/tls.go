package dissect

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"

	"sipwatch.dev/sipwatch/internal/packet"
)

// ErrNoTLSKeys is returned when no session key is configured or no
// matching session is found for a TLS record. It is not ErrDrop, so the
// chain counts it in DroppedCount like a decode failure. spec.md §4.C4: "Without keys, the packet is dropped at TLS."
var ErrNoTLSKeys = errors.New("dissect: no matching TLS session keys")

// TLSSessionKey is one NSS-format keylog entry: a client random value and
// the derived traffic secret needed to decrypt that session's records.
// Only CLIENT_TRAFFIC_SECRET_0-style entries are modeled, full key
// schedule derivation is intentionally out of scope (spec.md §1
// Non-goals: "No encryption/decryption beyond passive TLS key-log
// assisted decoding").
type TLSSessionKey struct {
	ClientRandom []byte
	TrafficKey   []byte // raw symmetric key material for the session's cipher
}

// TLSKeyStore holds session keys loaded from an NSS keylog file, looked up
// by client-random as records arrive in order (spec.md §4.C4, §6 Keyfile).
type TLSKeyStore struct {
	mu   sync.RWMutex
	byCR map[string]TLSSessionKey
}

func NewTLSKeyStore() *TLSKeyStore {
	return &TLSKeyStore{byCR: make(map[string]TLSSessionKey)}
}

// Add registers or replaces a session key, e.g. after re-reading the
// keyfile on change (spec.md §4.C4: "reads it once at configuration time
// and on file change").
func (s *TLSKeyStore) Add(key TLSSessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCR[string(key.ClientRandom)] = key
}

func (s *TLSKeyStore) lookup(clientRandom []byte) (TLSSessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byCR[string(clientRandom)]
	return k, ok
}

// TLSDissector decrypts TLS application-data records in-order using a
// matching recorded session, forwarding plaintext to SIP. It is an
// optional child of TCP, wired only when a keyfile is configured
// (spec.md §4.C4).
type TLSDissector struct {
	Keys *TLSKeyStore

	// session maps a flow to the client-random of its handshake. It is
	// filled only through SetClientRandom; no dissector in the chain reads
	// ClientHello messages to fill it.
	session map[string][]byte
	mu      sync.Mutex
}

func NewTLSDissector(keys *TLSKeyStore) *TLSDissector {
	return &TLSDissector{Keys: keys, session: make(map[string][]byte)}
}

func (TLSDissector) ID() packet.ProtocolID { return packet.ProtocolTLS }
func (TLSDissector) Name() string          { return "tls" }

// SetClientRandom records the client-random observed in a flow's
// ClientHello, associating it with that flow's identity string.
func (d *TLSDissector) SetClientRandom(flowID string, clientRandom []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session[flowID] = clientRandom
}

// Dissect decrypts a single TLS record's ciphertext payload (in) and
// returns the decrypted SIP bytes. flowID must have already been
// associated with a client-random via SetClientRandom for this to
// succeed.
func (d *TLSDissector) Dissect(pkt *packet.Packet, in []byte) ([]byte, error) {
	flowID := pkt.Addrs.String()
	d.mu.Lock()
	clientRandom := d.session[flowID]
	d.mu.Unlock()

	if len(clientRandom) == 0 {
		return nil, ErrNoTLSKeys
	}
	sess, ok := d.Keys.lookup(clientRandom)
	if !ok {
		return nil, ErrNoTLSKeys
	}

	plain, err := decryptRecord(sess.TrafficKey, in)
	if err != nil {
		return nil, err
	}
	pkt.Set(packet.ProtocolTLS, struct{}{}, nil)
	return plain, nil
}

// decryptRecord performs AES-GCM decryption of a TLS 1.3-style record
// using the session's derived key, matching how the reference HEP/SIP
// capture tooling in the corpus treats TLS as "decrypt with a known key,
// don't re-implement the handshake." The nonce is taken from the leading
// bytes of the record per the TLS record layer's explicit-nonce
// convention used by GCM cipher suites.
func decryptRecord(key, record []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(record) < gcm.NonceSize() {
		return nil, errors.New("dissect: TLS record shorter than nonce")
	}
	nonce := record[:gcm.NonceSize()]
	ciphertext := record[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(plain, "\x00"), nil
}

// TLSNext always hands decrypted TLS payload to SIP.
func TLSNext(_ *packet.Packet, _ []byte) (packet.ProtocolID, bool) {
	return packet.ProtocolSIP, true
}
