// Package config loads AXTerm's YAML configuration, grounded on
// doismellburning-samoyed/src/deviceid.go's use of gopkg.in/yaml.v3 for
// reading structured data files at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minorsecond/AXTerm-sub008/internal/ax25session"
	"github.com/minorsecond/AXTerm-sub008/internal/axdp"
	"github.com/minorsecond/AXTerm-sub008/internal/txsched"
)

// SessionConfig mirrors ax25session.Config in a YAML-friendly shape.
type SessionConfig struct {
	WindowSize int  `yaml:"windowSize"`
	MaxRetries int  `yaml:"maxRetries"`
	Extended   bool `yaml:"extended"`
}

// ToAX25Session converts to ax25session.Config, clamping via NewConfig.
func (c SessionConfig) ToAX25Session() ax25session.Config {
	return ax25session.NewConfig(c.WindowSize, c.MaxRetries, c.Extended)
}

// CapabilityConfig mirrors the locally-advertised axdp.Capability.
type CapabilityConfig struct {
	ProtoMin           uint8    `yaml:"protoMin"`
	ProtoMax           uint8    `yaml:"protoMax"`
	CompressionAlgos   []string `yaml:"compressionAlgos"`
	MaxDecompressedLen uint32   `yaml:"maxDecompressedLen"`
	MaxChunkLen        uint16   `yaml:"maxChunkLen"`
}

// SchedulerConfig configures the per-destination token bucket.
type SchedulerConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst float64 `yaml:"burst"`
}

// CacheConfig configures the capability cache TTL.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttlSeconds"`
}

// Config is the top-level configuration document.
type Config struct {
	Session         SessionConfig    `yaml:"session"`
	Capability      CapabilityConfig `yaml:"capability"`
	Scheduler       SchedulerConfig  `yaml:"scheduler"`
	Cache           CacheConfig      `yaml:"cache"`
	TimestampFormat string           `yaml:"timestampFormat"`
}

// Default returns the spec's defaults: session window 2 / 10 retries /
// basic sequencing, local capability per axdp.DefaultLocalCapability,
// scheduler rate 2.0/burst 5.0, cache TTL 24h.
func Default() Config {
	cap := axdp.DefaultLocalCapability()

	algos := make([]string, 0, len(cap.CompressionAlgos))
	for _, a := range cap.CompressionAlgos {
		algos = append(algos, algoName(a))
	}

	return Config{
		Session: SessionConfig{WindowSize: 2, MaxRetries: 10, Extended: false},
		Capability: CapabilityConfig{
			ProtoMin:           cap.ProtoMin,
			ProtoMax:           cap.ProtoMax,
			CompressionAlgos:   algos,
			MaxDecompressedLen: cap.MaxDecompressedLen,
			MaxChunkLen:        cap.MaxChunkLen,
		},
		Scheduler:       SchedulerConfig{Rate: txsched.DefaultRate, Burst: txsched.DefaultBurst},
		Cache:           CacheConfig{TTLSeconds: int(axdp.DefaultCacheTTL.Seconds())},
		TimestampFormat: defaultTimestampFormat,
	}
}

// defaultTimestampFormat mirrors runtime.DefaultTimestampFormat; kept as an
// independent constant here to avoid config importing runtime (runtime
// already imports config).
const defaultTimestampFormat = "%Y-%m-%d %H:%M:%S"

func algoName(a axdp.CompressionAlgo) string {
	switch a {
	case axdp.CompressionLZ4:
		return "lz4"
	case axdp.CompressionZstd:
		return "zstd"
	case axdp.CompressionDeflate:
		return "deflate"
	default:
		return "none"
	}
}

func algoFromName(s string) axdp.CompressionAlgo {
	switch s {
	case "lz4":
		return axdp.CompressionLZ4
	case "zstd":
		return axdp.CompressionZstd
	case "deflate":
		return axdp.CompressionDeflate
	default:
		return axdp.CompressionNone
	}
}

// Load reads and parses a YAML config file at path, returning Default()
// merged under the parsed values (fields absent from the file keep their
// default; a field set explicitly to zero stays zero). A missing file is
// not an error; Default() is returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}

	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// CacheTTL returns the cache TTL as a time.Duration, defaulting to
// axdp.DefaultCacheTTL if unset.
func (c Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return axdp.DefaultCacheTTL
	}

	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ToCapability converts the configured capability into an axdp.Capability
// with SACK and Resume always enabled, and Compression enabled whenever any
// compression algorithm is configured.
func (c Config) ToCapability() axdp.Capability {
	algos := make([]axdp.CompressionAlgo, 0, len(c.Capability.CompressionAlgos))
	for _, name := range c.Capability.CompressionAlgos {
		algos = append(algos, algoFromName(name))
	}

	features := axdp.FeatureSACK | axdp.FeatureResume
	if len(algos) > 0 {
		features |= axdp.FeatureCompression
	}

	return axdp.Capability{
		ProtoMin:           c.Capability.ProtoMin,
		ProtoMax:           c.Capability.ProtoMax,
		Features:           features,
		CompressionAlgos:   algos,
		MaxDecompressedLen: c.Capability.MaxDecompressedLen,
		MaxChunkLen:        c.Capability.MaxChunkLen,
	}
}

// WireDebugEnabled reports whether AXTERM_WIRE_DEBUG is set to a truthy
// value (1, true or yes, case-insensitive), gating verbose per-frame wire logging. Grounded on the teacher's
// textcolor debug-level idiom (a single env/flag-driven verbosity knob
// read once at startup), generalized to a boolean env var.
func (c Config) WireDebugEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("AXTERM_WIRE_DEBUG"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
