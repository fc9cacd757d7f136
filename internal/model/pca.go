package model

import (
	"fmt"
	"math"
	"math/rand"
)

// PCA computes principal components of the scaled training matrix via
// power iteration with deflation. The transform is fitted and persisted
// with every bundle so downstream analysis can project feature vectors,
// but the classifiers score on the scaled (unprojected) features.
type PCA struct {
	Components    [][]float64 `json:"components"`
	Mean          []float64   `json:"mean"`
	NumComponents int         `json:"num_components"`
}

// NewPCA creates an unfitted transform retaining n components.
func NewPCA(n int) *PCA {
	return &PCA{NumComponents: n}
}

// Fit learns the top components of the covariance of X.
func (p *PCA) Fit(X [][]float64) error {
	if len(X) == 0 || len(X[0]) == 0 {
		return fmt.Errorf("pca: empty training set")
	}
	dim := len(X[0])
	if p.NumComponents <= 0 || p.NumComponents > dim {
		return fmt.Errorf("pca: num_components %d out of range for dim %d", p.NumComponents, dim)
	}

	p.Mean = make([]float64, dim)
	for _, row := range X {
		if len(row) != dim {
			return fmt.Errorf("pca: %w", ErrDimension)
		}
		for j, v := range row {
			p.Mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range p.Mean {
		p.Mean[j] /= n
	}

	cov := make([][]float64, dim)
	for j := range cov {
		cov[j] = make([]float64, dim)
	}
	for _, row := range X {
		for j := 0; j < dim; j++ {
			dj := row[j] - p.Mean[j]
			for k := j; k < dim; k++ {
				cov[j][k] += dj * (row[k] - p.Mean[k])
			}
		}
	}
	for j := 0; j < dim; j++ {
		for k := j; k < dim; k++ {
			cov[j][k] /= n
			cov[k][j] = cov[j][k]
		}
	}

	p.Components = make([][]float64, 0, p.NumComponents)
	rng := rand.New(rand.NewSource(7))
	for c := 0; c < p.NumComponents; c++ {
		vec, eigenvalue, ok := powerIterate(cov, rng)
		if !ok {
			// Remaining variance is numerically zero.
			break
		}
		p.Components = append(p.Components, vec)
		deflate(cov, vec, eigenvalue)
	}
	if len(p.Components) == 0 {
		return fmt.Errorf("pca: no components with nonzero variance")
	}
	return nil
}

// Transform projects x onto the learned components.
func (p *PCA) Transform(x []float64) ([]float64, error) {
	if len(p.Components) == 0 {
		return nil, fmt.Errorf("pca: %w", ErrNotFitted)
	}
	if len(x) != len(p.Mean) {
		return nil, fmt.Errorf("pca: %w: got %d, want %d", ErrDimension, len(x), len(p.Mean))
	}

	centered := make([]float64, len(x))
	for j, v := range x {
		centered[j] = v - p.Mean[j]
	}
	out := make([]float64, len(p.Components))
	for c, comp := range p.Components {
		out[c] = dot(comp, centered)
	}
	return out, nil
}

// Fitted reports whether components have been learned.
func (p *PCA) Fitted() bool {
	return len(p.Components) > 0
}

// powerIterate extracts the dominant eigenvector of a symmetric matrix.
func powerIterate(m [][]float64, rng *rand.Rand) (vec []float64, eigenvalue float64, ok bool) {
	dim := len(m)
	v := make([]float64, dim)
	for j := range v {
		v[j] = rng.NormFloat64()
	}
	normalize(v)

	next := make([]float64, dim)
	for iter := 0; iter < 200; iter++ {
		for j := 0; j < dim; j++ {
			next[j] = dot(m[j], v)
		}
		norm := normalize(next)
		if norm < 1e-12 {
			return nil, 0, false
		}

		var delta float64
		for j := range v {
			delta += math.Abs(next[j] - v[j])
		}
		copy(v, next)
		if delta < 1e-10 {
			break
		}
	}

	for j := 0; j < dim; j++ {
		next[j] = dot(m[j], v)
	}
	eigenvalue = dot(v, next)
	if eigenvalue < 1e-12 {
		return nil, 0, false
	}
	out := make([]float64, dim)
	copy(out, v)
	return out, eigenvalue, true
}

// deflate removes the contribution of an extracted component.
func deflate(m [][]float64, vec []float64, eigenvalue float64) {
	for j := range m {
		for k := range m[j] {
			m[j][k] -= eigenvalue * vec[j] * vec[k]
		}
	}
}

func normalize(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	norm := math.Sqrt(s)
	if norm > 0 {
		for j := range v {
			v[j] /= norm
		}
	}
	return norm
}
