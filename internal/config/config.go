// Package config handles ObserverConfig loading using viper, grounded on
// the teacher's capture-agent GlobalConfig loader: a single root struct,
// env-var overrides on top of the file, SetDefault before unmarshal, and
// a ValidateAndApplyDefaults pass that both rejects bad values and fills
// in derived ones.
package config

import (
	"fmt"

	"sipwatch.dev/sipwatch/internal/obslog"
)

// ObserverConfig is the root configuration struct consumed by the
// observer wiring in cmd/ (spec.md §6's "Configuration options
// recognized" table, plus the pause.mode open question resolved in
// SPEC_FULL.md §12).
type ObserverConfig struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Storage StorageConfig `mapstructure:"storage"`
	Pause   PauseConfig   `mapstructure:"pause"`
	Log     obslog.Config `mapstructure:"log"`
}

// CaptureConfig groups the `capture.*` keys from spec.md §6.
type CaptureConfig struct {
	Online  CaptureOnlineConfig  `mapstructure:"online"`
	Offline CaptureOfflineConfig `mapstructure:"offline"`
	TLS     CaptureTLSConfig     `mapstructure:"tls"`
}

// CaptureOnlineConfig configures live capture inputs.
type CaptureOnlineConfig struct {
	BPF string `mapstructure:"bpf"` // capture.online.bpf: applied BPF string
}

// CaptureOfflineConfig configures offline trace-file inputs.
type CaptureOfflineConfig struct {
	Limit int64 `mapstructure:"limit"` // capture.offline.limit: validated to be >= 0; no input applies it as a cap on loaded bytes
}

// CaptureTLSConfig configures passive TLS decryption via a keylog file.
type CaptureTLSConfig struct {
	Server  string `mapstructure:"server"`  // capture.tls.server: required when keyfile is set; not passed to the TLS dissector
	Keyfile string `mapstructure:"keyfile"` // capture.tls.keyfile: NSS keylog path
}

// StorageConfig groups the `storage.*` keys from spec.md §6.
type StorageConfig struct {
	Memory StorageMemoryConfig `mapstructure:"memory"`
	Capture StorageCaptureConfig `mapstructure:"capture"`
	Match   StorageMatchConfig   `mapstructure:"match"`
}

// StorageMemoryConfig bounds the store's retained byte footprint.
type StorageMemoryConfig struct {
	Limit int64 `mapstructure:"limit"` // storage.memory.limit: bytes before eviction, 0 = unbounded
}

// StorageCaptureConfig toggles non-INVITE dialog filtering.
type StorageCaptureConfig struct {
	Dialogs bool `mapstructure:"dialogs"` // storage.capture.dialogs: ignore non-INVITE Call-IDs
}

// StorageMatchConfig configures the ingest-time payload match filter
// (spec.md §4.C13: "Extract Call-ID. If a match expression is configured,
// apply to payload; if it doesn't match (xor match_invert), drop.").
type StorageMatchConfig struct {
	Expression string `mapstructure:"expression"`
	Invert     bool   `mapstructure:"invert"`
	Complete   bool   `mapstructure:"complete"`
}

// PauseConfig resolves spec.md §9's open question on pause semantics
// (SPEC_FULL.md §12: default "status-only").
type PauseConfig struct {
	Mode string `mapstructure:"mode"` // "status-only" (default) or "drop-incoming"
}

// ValidateAndApplyDefaults fills in zero-valued fields with their
// defaults and rejects configuration combinations that can't be acted
// on, mirroring the teacher's ValidateAndApplyDefaults split between
// structural checks and derived-value resolution.
func (cfg *ObserverConfig) ValidateAndApplyDefaults() error {
	if cfg.Pause.Mode == "" {
		cfg.Pause.Mode = "status-only"
	}
	if cfg.Pause.Mode != "status-only" && cfg.Pause.Mode != "drop-incoming" {
		return fmt.Errorf("config: invalid pause.mode %q (must be status-only or drop-incoming)", cfg.Pause.Mode)
	}

	if cfg.Storage.Memory.Limit < 0 {
		return fmt.Errorf("config: storage.memory.limit must be >= 0, got %d", cfg.Storage.Memory.Limit)
	}
	if cfg.Capture.Offline.Limit < 0 {
		return fmt.Errorf("config: capture.offline.limit must be >= 0, got %d", cfg.Capture.Offline.Limit)
	}

	if cfg.Capture.TLS.Keyfile != "" && cfg.Capture.TLS.Server == "" {
		return fmt.Errorf("config: capture.tls.server is required when capture.tls.keyfile is set")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return nil
}
