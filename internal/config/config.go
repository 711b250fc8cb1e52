// Package config loads the engine's INI configuration file: one
// [dpdce] section naming the ports, sample geometry and filesystem
// locations the engine needs at startup.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Defaults match the modulator's tested configuration.
const (
	DefaultControlPort = 9999
	DefaultDPDPort     = 50055
	DefaultRCPort      = 9400
	DefaultSampleRate  = 8192000
	DefaultSamps       = 81920
)

// Config is the [dpdce] section of the engine's INI configuration file.
type Config struct {
	ControlPort   int    `ini:"control_port"`
	DPDPort       int    `ini:"dpd_port"`
	RCPort        int    `ini:"rc_port"`
	SampleRate    int    `ini:"samplerate"`
	Samps         int    `ini:"samps"`
	CoefFile      string `ini:"coef_file"`
	LogsDirectory string `ini:"logs_directory"`
	PlotDirectory string `ini:"plot_directory"`
}

// Load reads and validates path, an INI file with one [dpdce] section.
// A missing or unreadable file is the engine's only fatal startup
// condition.
func Load(path string) (Config, error) {
	cfg := Config{
		ControlPort: DefaultControlPort,
		DPDPort:     DefaultDPDPort,
		RCPort:      DefaultRCPort,
		SampleRate:  DefaultSampleRate,
		Samps:       DefaultSamps,
	}

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	section, err := file.GetSection("dpdce")
	if err != nil {
		return Config{}, fmt.Errorf("config: missing [dpdce] section in %s: %w", path, err)
	}

	if err := section.MapTo(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.CoefFile == "" {
		return Config{}, fmt.Errorf("config: %s: coef_file is required", path)
	}
	return cfg, nil
}
