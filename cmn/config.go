package cmn

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the broker tunables: fast-path timeout, GC interval bounds,
// cache ceilings, queue lengths. The wire-level IPC binding that exposes
// these to an operator is out of scope; the struct and its TOML loader are
// the in-scope ambient plumbing around it.
type Config struct {
	RNF   RNFConfig   `toml:"rnf"`
	Cache CacheConfig `toml:"cache"`
	Queue QueueConfig `toml:"queue"`
	Log   LogSection  `toml:"log"`
}

type RNFConfig struct {
	FastPathTimeoutMS int `toml:"fast_path_timeout_ms"`
}

type CacheConfig struct {
	MaxBytes       int64 `toml:"max_bytes"`
	MaxCount       int   `toml:"max_count"`
	AgeThresholdMS int   `toml:"age_threshold_ms"`
	MinGCTimerMS   int   `toml:"min_gc_timer_ms"`
}

type QueueConfig struct {
	MaxLength int `toml:"max_length"`
}

type LogSection struct {
	Level    string `toml:"level"`
	FilePath string `toml:"file_path"`
	Stderr   bool   `toml:"stderr"`
}

// DefaultConfig mirrors the defaults named in the component design: 150 ms
// fast-path budget, 15 minute age threshold, 500 ms minimum GC reprogram.
func DefaultConfig() Config {
	return Config{
		RNF: RNFConfig{FastPathTimeoutMS: 150},
		Cache: CacheConfig{
			MaxBytes:       64 << 20,
			MaxCount:       100000,
			AgeThresholdMS: int(15 * time.Minute / time.Millisecond),
			MinGCTimerMS:   500,
		},
		Queue: QueueConfig{MaxLength: 16},
		Log:   LogSection{Level: "info", Stderr: true},
	}
}

// LoadConfig reads a TOML file at path, overlaying it on DefaultConfig.
// A missing file is not an error: defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, NewInternalError(err, "parsing config file %s", path)
	}
	return cfg, nil
}

func (c RNFConfig) FastPathTimeout() time.Duration {
	return time.Duration(c.FastPathTimeoutMS) * time.Millisecond
}

func (c CacheConfig) AgeThreshold() time.Duration {
	return time.Duration(c.AgeThresholdMS) * time.Millisecond
}

func (c CacheConfig) MinGCTimer() time.Duration {
	return time.Duration(c.MinGCTimerMS) * time.Millisecond
}
