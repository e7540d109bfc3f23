package search

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hupe1980/kinematch/fragment"
	"github.com/hupe1980/kinematch/quantization"
)

var (
	// ErrNoDatabase is returned when the engine is created without a database.
	ErrNoDatabase = errors.New("search: database is required")
	// ErrInvalidK is returned when TopK is called with k <= 0.
	ErrInvalidK = errors.New("search: k must be positive")
	// ErrFragmentOutOfRange is returned for fragment indices outside the database.
	ErrFragmentOutOfRange = errors.New("search: fragment out of range")
)

// DefaultTableCacheSize is the number of per-fragment distance tables kept
// for pair costs.
const DefaultTableCacheSize = 256

// Options configures an Engine.
type Options struct {
	// Normalizer is applied to query features before lookup. It must be the
	// one the codes were computed with.
	Normalizer *fragment.Normalizer
	// Valid restricts the fragments with a usable encoding. Nil means all.
	Valid *roaring.Bitmap
	// TableCacheSize bounds the distance tables cached by PairCost.
	TableCacheSize int
	Logger         *slog.Logger
}

// Engine scores fragments against live queries.
// It is safe for concurrent use.
type Engine struct {
	db     fragment.Database
	pq     *quantization.ProductQuantizer
	codes  []byte
	valid  *roaring.Bitmap
	norm   *fragment.Normalizer
	tables *lru.Cache[int, []float32]
	logger *slog.Logger
}

// New creates an engine over db whose fragments are encoded in codes.
func New(db fragment.Database, pq *quantization.ProductQuantizer, codes []byte, optFns ...func(o *Options)) (*Engine, error) {
	if db == nil {
		return nil, ErrNoDatabase
	}
	if !pq.IsTrained() {
		return nil, quantization.ErrNotTrained
	}
	if pq.Dimension() != db.NumFeatures() {
		return nil, &quantization.ErrDimensionMismatch{Expected: db.NumFeatures(), Actual: pq.Dimension()}
	}
	if want := db.NumFragments() * pq.CodeSize(); len(codes) != want {
		return nil, &quantization.ErrDimensionMismatch{Expected: want, Actual: len(codes)}
	}

	opts := Options{TableCacheSize: DefaultTableCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.TableCacheSize <= 0 {
		opts.TableCacheSize = DefaultTableCacheSize
	}
	if opts.Normalizer != nil && opts.Normalizer.Dim() != db.NumFeatures() {
		return nil, fmt.Errorf("search: normalizer: %w", &quantization.ErrDimensionMismatch{Expected: db.NumFeatures(), Actual: opts.Normalizer.Dim()})
	}
	valid := opts.Valid
	if valid == nil {
		valid = fragment.AllFragments(db)
	}

	tables, err := lru.New[int, []float32](opts.TableCacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		db:     db,
		pq:     pq,
		codes:  codes,
		valid:  valid,
		norm:   opts.Normalizer,
		tables: tables,
		logger: opts.Logger,
	}, nil
}

// Database returns the fragment database.
func (e *Engine) Database() fragment.Database { return e.db }

// Quantizer returns the product quantizer.
func (e *Engine) Quantizer() *quantization.ProductQuantizer { return e.pq }

// Valid returns the set of fragments with a usable encoding. It must not be modified.
func (e *Engine) Valid() *roaring.Bitmap { return e.valid }

// Code returns the encoding of fragment i.
func (e *Engine) Code(i int) []byte {
	size := e.pq.CodeSize()
	return e.codes[i*size : (i+1)*size]
}

// Table builds the distance table of raw (unnormalized) query features.
func (e *Engine) Table(features []float32) ([]float32, error) {
	if e.norm != nil {
		if len(features) != e.norm.Dim() {
			return nil, &quantization.ErrDimensionMismatch{Expected: e.norm.Dim(), Actual: len(features)}
		}
		features = e.norm.Normalize(features)
	}
	return e.pq.BuildDistanceTable(features)
}

// PoseCost returns the pose cost of fragment i for a prepared table, or
// +Inf when the fragment has no valid encoding.
func (e *Engine) PoseCost(table []float32, i int) float32 {
	if i < 0 || i >= e.db.NumFragments() || !e.valid.Contains(uint32(i)) {
		return float32(math.Inf(1))
	}
	return float32(math.Sqrt(float64(e.pq.AdcDistance(table, e.Code(i)))))
}

// PairCost returns the pose cost between two database fragments. Tables
// of recently used source fragments are cached.
func (e *Engine) PairCost(source, target int) (float32, error) {
	if source < 0 || source >= e.db.NumFragments() {
		return 0, fmt.Errorf("%w: %d", ErrFragmentOutOfRange, source)
	}
	table, ok := e.tables.Get(source)
	if !ok {
		var err error
		table, err = e.Table(e.db.FragmentFeatures(source))
		if err != nil {
			return 0, err
		}
		e.tables.Add(source, table)
	}
	return e.PoseCost(table, target), nil
}
