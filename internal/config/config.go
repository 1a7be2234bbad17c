// Package config loads tool defaults from the environment. Every value can be
// overridden by a GSPEED_* variable or a .env file in the working directory;
// command-line flags take precedence over both.
package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "GSPEED"

type Config struct {
	OutputSuffix string `mapstructure:"OUTPUT_SUFFIX"`
	Creator      string `mapstructure:"CREATOR"`
	TimeLayout   string `mapstructure:"TIME_LAYOUT"`
	VerifyOutput bool   `mapstructure:"VERIFY_OUTPUT"`

	TraceTimeBins   int `mapstructure:"TRACE_TIME_BINS"`
	TraceWindowBins int `mapstructure:"TRACE_WINDOW_BINS"`
}

// Load reads .env files (if any) and the environment on top of the defaults.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 {
			log.Printf("[WARN] could not load %s: %v", strings.Join(envFiles, ", "), err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("OUTPUT_SUFFIX", "_fast")
	v.SetDefault("CREATOR", "")
	v.SetDefault("TIME_LAYOUT", "2006-01-02T15:04:05Z")
	v.SetDefault("VERIFY_OUTPUT", false)
	v.SetDefault("TRACE_TIME_BINS", 100)
	v.SetDefault("TRACE_WINDOW_BINS", 10)

	// Fields that fail to decode stay zero and fall back below
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Printf("[WARN] invalid %s_* setting, using defaults: %v", envPrefix, err)
	}

	if cfg.TimeLayout == "" {
		cfg.TimeLayout = "2006-01-02T15:04:05Z"
	}
	if cfg.TraceTimeBins <= 0 {
		cfg.TraceTimeBins = 100
	}
	if cfg.TraceWindowBins <= 0 {
		cfg.TraceWindowBins = 10
	}
	return cfg
}
