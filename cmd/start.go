package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sipwatch.dev/sipwatch/internal/callstore"
	"sipwatch.dev/sipwatch/internal/capture"
	"sipwatch.dev/sipwatch/internal/config"
	"sipwatch.dev/sipwatch/internal/dissect"
	"sipwatch.dev/sipwatch/internal/obslog"
	"sipwatch.dev/sipwatch/internal/observer"
)

var (
	startDevice string
	startFile   string
	startHEP    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capturing and report call stats until interrupted",
	Long: `Start wires one capture input (a live device, a trace file, or a
HEP listener) into the dissection chain and call store, and prints
storage stats until interrupted with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func init() {
	startCmd.Flags().StringVar(&startDevice, "device", "", "live capture device (e.g. eth0)")
	startCmd.Flags().StringVar(&startFile, "file", "", "offline trace file to replay")
	startCmd.Flags().StringVar(&startHEP, "hep-listen", "", "HEP v3 UDP listen address (e.g. 0.0.0.0:9060)")
}

func runStart() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}

	log, err := obslog.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("cmd: init logging: %w", err)
	}

	var tlsKeys *dissect.TLSKeyStore
	if cfg.Capture.TLS.Keyfile != "" {
		tlsKeys, err = dissect.LoadKeylogFile(cfg.Capture.TLS.Keyfile)
		if err != nil {
			return fmt.Errorf("cmd: load TLS keyfile: %w", err)
		}
	}

	chain := dissect.NewDefaultChain(dissect.Config{
		TCPWindow:       5 * time.Second,
		TCPMaxHeld:      64,
		IPv4FragmentTTL: 30 * time.Second,
		RetransmitTTL:   32 * time.Second,
		TLSKeys:         tlsKeys,
	}, log)

	mgr := capture.NewManager(chain, log)
	switch cfg.Pause.Mode {
	case "drop-incoming":
		mgr.SetPauseMode(capture.PauseDropIncoming)
	default:
		mgr.SetPauseMode(capture.PauseStatusOnly)
	}

	store := callstore.NewStore(callstore.Config{
		MemoryLimitBytes:   cfg.Storage.Memory.Limit,
		CaptureDialogsOnly: cfg.Storage.Capture.Dialogs,
		MatchExpression:    cfg.Storage.Match.Expression,
		MatchInvert:        cfg.Storage.Match.Invert,
		MatchCompleteOnly:  cfg.Storage.Match.Complete,
	})
	hub := observer.NewHub(store)
	mgr.OnInputFailed = hub.NotifyInputFailed
	mgr.Consume = store.Ingest

	switch {
	case startDevice != "":
		mgr.AddInput(capture.NewLiveInput(startDevice, log))
	case startFile != "":
		mgr.AddInput(capture.NewFileInput(startFile, log))
	case startHEP != "":
		mgr.AddInput(capture.NewHEPInput(startHEP, log))
	default:
		return fmt.Errorf("cmd: one of --device, --file, --hep-listen is required")
	}

	if cfg.Capture.Online.BPF != "" {
		if err := mgr.SetFilter(cfg.Capture.Online.BPF); err != nil {
			return fmt.Errorf("cmd: apply bpf filter: %w", err)
		}
	}

	if err := mgr.Start(); err != nil {
		return fmt.Errorf("cmd: start capture: %w", err)
	}
	defer mgr.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	log.Info("sipwatch started, press Ctrl-C to stop")
	for {
		select {
		case <-sig:
			log.Info("stopping")
			return nil
		case <-ticker.C:
			stats := hub.GetStats()
			log.WithField("total", stats.Total).
				WithField("displayed", stats.Displayed).
				WithField("mem_bytes", stats.MemoryBytesUsed).
				WithField("status", mgr.StatusDesc()).
				Info("stats")
		}
	}
}
