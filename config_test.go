package kinematch

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/kinematch/asset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	doc := `
sub_quantizers: 4
num_bits: 6
normalize: false
tags: [locomotion]
training:
  num_attempts: 3
  seed: 99
frame_budget: 2ms
tick_rate: 60
compression: lz4
transition:
  maximum_linear_error: 0.25
  time_horizon: 500ms
`
	cfg, err := ParseConfig(strings.NewReader(doc))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, 4, cfg.SubQuantizers)
	assert.Equal(t, 6, cfg.NumBits)
	assert.False(t, cfg.Normalize)
	assert.Equal(t, []string{"locomotion"}, cfg.Tags)
	assert.Equal(t, 3, cfg.Training.NumAttempts)
	assert.Equal(t, uint64(99), cfg.Training.Seed)
	assert.Equal(t, def.Training.NumIterations, cfg.Training.NumIterations)
	assert.Equal(t, 2*time.Millisecond, cfg.FrameBudget)
	assert.Equal(t, 60.0, cfg.TickRate)
	assert.Equal(t, asset.CompressionLZ4, cfg.Compression)
	assert.Equal(t, 0.25, cfg.Transition.MaximumLinearError)
	assert.Equal(t, def.Transition.MaximumAngularError, cfg.Transition.MaximumAngularError)
	assert.Equal(t, 500*time.Millisecond, cfg.Transition.TimeHorizon)
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"UnknownField", "sub_quantizer: 4\n"},
		{"NumBits", "num_bits: 0\n"},
		{"Divisible", "feature_dimension: 10\nsub_quantizers: 4\n"},
		{"Compression", "compression: brotli\n"},
		{"Training", "training:\n  minimum_number_samples: 8\n  maximum_number_samples: 4\n"},
		{"Negative", "workers: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_MarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tags = []string{"vault"}
	cfg.FrameBudget = 3 * time.Millisecond

	data, err := cfg.Marshal()
	require.NoError(t, err)

	got, err := ParseConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bake.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sub_quantizers: 2\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.SubQuantizers)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
