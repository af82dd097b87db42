package dissect

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// LoadKeylogFile parses an NSS-format TLS session-keys file (the format
// SSLKEYLOGFILE-aware clients write) into a fresh TLSKeyStore (spec.md
// §6 Keyfile: "NSS-format TLS session-keys file path"). Only
// CLIENT_TRAFFIC_SECRET_0 lines are modeled, matching TLSSessionKey's
// scope.
func LoadKeylogFile(path string) (*TLSKeyStore, error) {
	store := NewTLSKeyStore()
	if err := reloadKeylogFile(path, store); err != nil {
		return nil, err
	}
	return store, nil
}

func reloadKeylogFile(path string, store *TLSKeyStore) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dissect: open keyfile %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] != "CLIENT_TRAFFIC_SECRET_0" {
			continue
		}
		clientRandom, err := hex.DecodeString(fields[1])
		if err != nil {
			continue
		}
		trafficKey, err := hex.DecodeString(fields[2])
		if err != nil {
			continue
		}
		store.Add(TLSSessionKey{ClientRandom: clientRandom, TrafficKey: trafficKey})
	}
	return scanner.Err()
}

// WatchKeylogFile re-reads path into store whenever it changes on disk
// (spec.md §4.C4: "reads it once at configuration time and on file
// change"), using fsnotify the same way viper watches its own config
// file. The returned watcher must be closed by the caller on shutdown.
func WatchKeylogFile(path string, store *TLSKeyStore, log *logrus.Entry) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dissect: watch keyfile %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("dissect: watch keyfile dir %s: %w", path, err)
	}

	go func() {
		want := filepath.Clean(path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != want {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := reloadKeylogFile(path, store); err != nil {
					log.WithError(err).Warn("dissect: keyfile reload failed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("dissect: keyfile watcher error")
			}
		}
	}()
	return w, nil
}
