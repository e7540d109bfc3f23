package fragment

import "gonum.org/v1/gonum/stat"

// minStdDev keeps near-constant features from being amplified.
const minStdDev = 1e-6

// Source is a set of fixed-width feature vectors.
type Source interface {
	NumFragments() int
	FragmentFeatures(i int) []float32
}

// Normalizer standardizes features to zero mean and unit variance.
type Normalizer struct {
	Mean   []float32
	InvStd []float32
}

// ComputeNormalization derives per-feature statistics from src.
// Features with (near) zero variance are only centered.
func ComputeNormalization(src Source) (*Normalizer, error) {
	n := src.NumFragments()
	if n == 0 {
		return nil, ErrEmptySource
	}
	dim := len(src.FragmentFeatures(0))

	norm := &Normalizer{
		Mean:   make([]float32, dim),
		InvStd: make([]float32, dim),
	}
	column := make([]float64, n)
	for d := 0; d < dim; d++ {
		for i := 0; i < n; i++ {
			column[i] = float64(src.FragmentFeatures(i)[d])
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		norm.Mean[d] = float32(mean)
		if std > minStdDev {
			norm.InvStd[d] = float32(1 / std)
		} else {
			norm.InvStd[d] = 1
		}
	}
	return norm, nil
}

// Dim returns the feature width.
func (n *Normalizer) Dim() int { return len(n.Mean) }

// Apply writes the normalized form of in to out. in and out may alias.
func (n *Normalizer) Apply(in, out []float32) {
	for d := range n.Mean {
		out[d] = (in[d] - n.Mean[d]) * n.InvStd[d]
	}
}

// Normalize returns a normalized copy of v.
func (n *Normalizer) Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n.Apply(v, out)
	return out
}

// Matrix materializes the normalized features of src.
func (n *Normalizer) Matrix(src Source) *Matrix {
	m := NewMatrix(n.Dim(), src.NumFragments())
	for i := 0; i < src.NumFragments(); i++ {
		n.Apply(src.FragmentFeatures(i), m.Row(i))
	}
	return m
}

// Matrix is a dense row-major feature table.
type Matrix struct {
	Dim  int
	Data []float32
}

// NewMatrix allocates a zeroed rows x dim matrix.
func NewMatrix(dim, rows int) *Matrix {
	return &Matrix{Dim: dim, Data: make([]float32, dim*rows)}
}

// Row returns row i.
func (m *Matrix) Row(i int) []float32 { return m.Data[i*m.Dim : (i+1)*m.Dim] }

// NumFragments implements Source.
func (m *Matrix) NumFragments() int {
	if m.Dim == 0 {
		return 0
	}
	return len(m.Data) / m.Dim
}

// FragmentFeatures implements Source.
func (m *Matrix) FragmentFeatures(i int) []float32 { return m.Row(i) }
