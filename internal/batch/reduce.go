package batch

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reducer projects feature rows into a lower-dimensional space. Fit learns
// the projection from training rows; Transform applies it to any rows.
type Reducer interface {
	Fit(rows *mat.Dense) error
	Transform(rows *mat.Dense) (*mat.Dense, error)
}

var errNotFitted = errors.New("reducer has not been fitted")

// PCA keeps the leading Components principal components.
type PCA struct {
	Components int

	means   []float64
	vectors *mat.Dense
}

// Fit computes column means and principal directions of rows.
func (p *PCA) Fit(rows *mat.Dense) error {
	r, c := rows.Dims()
	if p.Components <= 0 || p.Components > c || p.Components > r {
		return fmt.Errorf("pca: %d components requested for a %d×%d matrix", p.Components, r, c)
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(rows, nil); !ok {
		return errors.New("pca: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	p.vectors = mat.DenseCopyOf(vecs.Slice(0, c, 0, p.Components))

	p.means = make([]float64, c)
	col := make([]float64, r)
	for j := range p.means {
		mat.Col(col, j, rows)
		p.means[j] = stat.Mean(col, nil)
	}
	return nil
}

// Transform centres rows on the training means and projects them.
func (p *PCA) Transform(rows *mat.Dense) (*mat.Dense, error) {
	if p.vectors == nil {
		return nil, errNotFitted
	}
	r, c := rows.Dims()
	if c != len(p.means) {
		return nil, fmt.Errorf("pca: fitted on %d columns, got %d", len(p.means), c)
	}
	centred := mat.NewDense(r, c, nil)
	centred.Apply(func(_, j int, v float64) float64 { return v - p.means[j] }, rows)

	var out mat.Dense
	out.Mul(centred, p.vectors)
	return &out, nil
}
