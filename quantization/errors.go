package quantization

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when encoding or decoding before training.
	ErrNotTrained = errors.New("quantization: product quantizer not trained")
	// ErrNoTrainingData is returned when the training source is empty.
	ErrNoTrainingData = errors.New("quantization: no training data")
	// ErrTrainingInProgress is returned when a second training session is scheduled.
	ErrTrainingInProgress = errors.New("quantization: training session already open")
	// ErrSessionClosed is returned when a disposed training session is advanced.
	ErrSessionClosed = errors.New("quantization: training session closed")
	// ErrInvalidSettings is returned for out-of-range training settings.
	ErrInvalidSettings = errors.New("quantization: invalid training settings")
	// ErrInvalidCodebook is returned when decoding a malformed codebook.
	ErrInvalidCodebook = errors.New("quantization: invalid codebook")
)

// ErrDimensionMismatch indicates a vector or code with the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("quantization: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidSubQuantizers indicates a dimension that cannot be split into
// the requested number of sub-quantizers.
type ErrInvalidSubQuantizers struct {
	Dimension     int
	SubQuantizers int
}

func (e *ErrInvalidSubQuantizers) Error() string {
	return fmt.Sprintf("quantization: dimension %d is not divisible into %d sub-quantizers", e.Dimension, e.SubQuantizers)
}

// ErrInvalidNumBits indicates an unsupported bit depth.
type ErrInvalidNumBits struct {
	NumBits int
}

func (e *ErrInvalidNumBits) Error() string {
	return fmt.Sprintf("quantization: numBits must be in [%d,%d], got %d", MinNumBits, MaxNumBits, e.NumBits)
}
