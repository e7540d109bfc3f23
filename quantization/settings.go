package quantization

import (
	"fmt"

	"github.com/hupe1980/kinematch/internal/kmeans"
)

// TrainingSettings is the builder-facing training configuration.
// It is copied into each training session and never mutated mid-run.
type TrainingSettings struct {
	NumAttempts   int    `yaml:"num_attempts" json:"numAttempts"`
	NumIterations int    `yaml:"num_iterations" json:"numIterations"`
	Seed          uint64 `yaml:"seed" json:"seed"`
	// The training subsample is clamped to
	// [MinimumNumberSamples*ksub, MaximumNumberSamples*ksub].
	MinimumNumberSamples int `yaml:"minimum_number_samples" json:"minimumNumberSamples"`
	MaximumNumberSamples int `yaml:"maximum_number_samples" json:"maximumNumberSamples"`
}

// DefaultTrainingSettings returns the default settings.
func DefaultTrainingSettings() TrainingSettings {
	km := kmeans.DefaultSettings()
	return TrainingSettings{
		NumAttempts:          km.NumAttempts,
		NumIterations:        km.NumIterations,
		Seed:                 km.Seed,
		MinimumNumberSamples: 32,
		MaximumNumberSamples: 256,
	}
}

// Validate checks the settings ranges.
func (s TrainingSettings) Validate() error {
	if err := s.kmeans(0).Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if s.MinimumNumberSamples < 1 {
		return fmt.Errorf("%w: minimumNumberSamples must be >= 1, got %d", ErrInvalidSettings, s.MinimumNumberSamples)
	}
	if s.MaximumNumberSamples < s.MinimumNumberSamples {
		return fmt.Errorf("%w: maximumNumberSamples (%d) < minimumNumberSamples (%d)",
			ErrInvalidSettings, s.MaximumNumberSamples, s.MinimumNumberSamples)
	}
	return nil
}

// kmeans derives the settings of sub-quantizer m.
func (s TrainingSettings) kmeans(m int) kmeans.Settings {
	return kmeans.Settings{
		NumAttempts:   s.NumAttempts,
		NumIterations: s.NumIterations,
		Seed:          s.Seed + uint64(m),
	}
}
