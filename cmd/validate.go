package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sipwatch.dev/sipwatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file without starting capture",
	Long: `Validate a sipwatch config file (YAML/JSON/TOML, anything viper
supports) without starting any capture input.

Example:
  sipwatch validate -c sipwatch.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidate()
	},
}

func runValidate() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Printf("INVALID: %v\n", err)
		exitWithError("config invalid", err)
		return
	}
	fmt.Printf("VALID: capture.online.bpf=%q storage.memory.limit=%d pause.mode=%s\n",
		cfg.Capture.Online.BPF, cfg.Storage.Memory.Limit, cfg.Pause.Mode)
}
