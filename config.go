package kinematch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hupe1980/kinematch/asset"
	"github.com/hupe1980/kinematch/quantization"
	"github.com/hupe1980/kinematch/transition"
	"gopkg.in/yaml.v3"
)

// Config describes how an asset is baked from a fragment database.
type Config struct {
	// FeatureDimension is the expected feature width. Zero takes the
	// database's width.
	FeatureDimension int `yaml:"feature_dimension"`
	SubQuantizers    int `yaml:"sub_quantizers"`
	NumBits          int `yaml:"num_bits"`
	// Normalize standardizes features before training and encoding.
	Normalize bool `yaml:"normalize"`
	// Tags restricts training and matching to segments carrying any of the
	// tags. Empty keeps every segment.
	Tags     []string                      `yaml:"tags,omitempty"`
	Training quantization.TrainingSettings `yaml:"training"`
	// BatchSize is the number of k-means stages advanced per FrameUpdate.
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`
	// TickRate caps RunPaced FrameUpdate calls per second. Zero is unpaced.
	TickRate float64 `yaml:"tick_rate"`
	// FrameBudget bounds the work of one FrameUpdate per sub-quantizer.
	FrameBudget time.Duration       `yaml:"frame_budget"`
	Compression asset.Compression   `yaml:"compression"`
	Transition  transition.Settings `yaml:"transition"`
}

// DefaultConfig returns a config with 8 sub-quantizers of 8 bits each,
// normalized features and zstd compressed assets.
func DefaultConfig() Config {
	return Config{
		SubQuantizers: 8,
		NumBits:       quantization.DefaultNumBits,
		Normalize:     true,
		Training:      quantization.DefaultTrainingSettings(),
		BatchSize:     1,
		Compression:   asset.CompressionZSTD,
		Transition:    transition.DefaultSettings(),
	}
}

// Validate checks the ranges of cfg.
func (c Config) Validate() error {
	if c.FeatureDimension < 0 {
		return fmt.Errorf("%w: feature_dimension must be >= 0, got %d", ErrInvalidConfig, c.FeatureDimension)
	}
	if c.SubQuantizers <= 0 {
		return fmt.Errorf("%w: sub_quantizers must be positive, got %d", ErrInvalidConfig, c.SubQuantizers)
	}
	if c.NumBits < quantization.MinNumBits || c.NumBits > quantization.MaxNumBits {
		return fmt.Errorf("%w: num_bits must be in [%d,%d], got %d",
			ErrInvalidConfig, quantization.MinNumBits, quantization.MaxNumBits, c.NumBits)
	}
	if c.FeatureDimension > 0 && c.FeatureDimension%c.SubQuantizers != 0 {
		return fmt.Errorf("%w: feature_dimension %d is not divisible by sub_quantizers %d",
			ErrInvalidConfig, c.FeatureDimension, c.SubQuantizers)
	}
	if c.BatchSize < 0 || c.Workers < 0 || c.TickRate < 0 || c.FrameBudget < 0 {
		return fmt.Errorf("%w: batch_size, workers, tick_rate and frame_budget must be >= 0", ErrInvalidConfig)
	}
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Transition.TimeHorizon < 0 {
		return fmt.Errorf("%w: transition time_horizon must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig decodes a YAML config. Fields missing from the document keep
// their DefaultConfig values.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(bytes.NewReader(data))
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
