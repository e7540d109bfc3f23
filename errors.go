package kinematch

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kinematch/asset"
	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/quantization"
	"github.com/hupe1980/kinematch/resource"
	"github.com/hupe1980/kinematch/search"
	"github.com/hupe1980/kinematch/transition"
)

var (
	// ErrNotTrained is returned when codes or searches are requested before
	// the codebook has been trained.
	ErrNotTrained = errors.New("kinematch: codebook not trained")
	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("kinematch: invalid configuration")
	// ErrNotFound is returned when an asset does not exist in the store.
	ErrNotFound = errors.New("kinematch: not found")
	// ErrCorruptAsset is returned when a stored asset fails to decode.
	ErrCorruptAsset = errors.New("kinematch: corrupt asset")
	// ErrNoTransition is reported by transitions without an acceptable pose pair.
	ErrNoTransition = errors.New("kinematch: no acceptable transition")
	// ErrNoValidFragments is returned when every fragment is filtered out.
	ErrNoValidFragments = errors.New("kinematch: no valid fragments")
	// ErrNotStarted is returned when a builder is advanced before Start.
	ErrNotStarted = errors.New("kinematch: builder not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("kinematch: builder already started")
	// ErrClosed is returned when a closed builder is used.
	ErrClosed = errors.New("kinematch: builder closed")
	// ErrMemoryLimit is returned when a build needs more memory than the
	// resource controller's limit allows in total.
	ErrMemoryLimit = errors.New("kinematch: memory limit too small")
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("kinematch: k must be positive")
)

// ErrDimensionMismatch indicates a feature or code width mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, quantization.ErrNotTrained) {
		return fmt.Errorf("%w: %w", ErrNotTrained, err)
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, asset.ErrInvalidAsset) || errors.Is(err, asset.ErrChecksum) ||
		errors.Is(err, asset.ErrUnsupportedVersion) || errors.Is(err, quantization.ErrInvalidCodebook) {
		return fmt.Errorf("%w: %w", ErrCorruptAsset, err)
	}
	if errors.Is(err, transition.ErrNoTransition) {
		return fmt.Errorf("%w: %w", ErrNoTransition, err)
	}
	if errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrMemoryLimit, err)
	}
	if errors.Is(err, search.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	var dm *quantization.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var sq *quantization.ErrInvalidSubQuantizers
	var nb *quantization.ErrInvalidNumBits
	if errors.As(err, &sq) || errors.As(err, &nb) ||
		errors.Is(err, quantization.ErrInvalidSettings) || errors.Is(err, transition.ErrInvalidRequest) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return err
}
