package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads an ObserverConfig from path (any format viper supports,
// YAML, JSON, TOML), overlays `SIPWATCH_`-prefixed environment
// variables, and applies defaults/validation, grounded on the teacher's
// capture-agent Load (viper.New, SetConfigName+AddConfigPath, env key
// replacer, SetDefault before Unmarshal).
func Load(path string) (*ObserverConfig, error) {
	v := viper.New()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	v.SetConfigName(strings.TrimSuffix(filename, ext))
	v.SetConfigType(strings.TrimPrefix(ext, "."))
	v.AddConfigPath(dir)

	v.SetEnvPrefix("SIPWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	setDefaults(v)

	var cfg ObserverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pause.mode", "status-only")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("capture.offline.limit", 0)
	v.SetDefault("storage.memory.limit", 0)
}
