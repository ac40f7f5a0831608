package batch

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TypeMapper relabels object types before classification.
type TypeMapper interface {
	MapTypes(types []string) []string
}

// BinaryMapper collapses types into Positive versus everything else.
type BinaryMapper struct {
	Positive string
	// Labels for the two classes; default "Ia" and "nonIa".
	Yes, No string
}

// MapTypes implements TypeMapper.
func (m BinaryMapper) MapTypes(types []string) []string {
	yes, no := m.Yes, m.No
	if yes == "" {
		yes = "Ia"
	}
	if no == "" {
		no = "nonIa"
	}
	out := make([]string, len(types))
	for i, t := range types {
		if t == m.Positive {
			out[i] = yes
		} else {
			out[i] = no
		}
	}
	return out
}

// Trial is the result of one cross-validation attempt.
type Trial struct {
	Index  int                `json:"index"`
	Params map[string]float64 `json:"params"`
	Score  float64            `json:"score"`
}

// CrossValidator scores one randomised attempt on the data matrix. trial
// seeds any randomness so attempts are independent and reproducible.
type CrossValidator interface {
	Validate(ctx context.Context, m *DataMatrix, trial int) (Trial, error)
}

// CrossValidate runs trials independent attempts of cv on the pool and
// returns the best-scoring one along with every completed trial. Failed
// trials are logged and skipped.
func CrossValidate(ctx context.Context, pool Pool, m *DataMatrix, cv CrossValidator, mapper TypeMapper, trials int) (Trial, []Trial, error) {
	if trials <= 0 {
		return Trial{}, nil, fmt.Errorf("cross validation needs at least one trial, got %d", trials)
	}
	if mapper != nil {
		mapped := *m
		mapped.Types = mapper.MapTypes(m.Types)
		m = &mapped
	}

	idx := make([]int, trials)
	for i := range idx {
		idx[i] = i
	}
	type attempt struct {
		t   Trial
		err error
	}
	results, err := Map(ctx, pool, idx, func(ctx context.Context, i int) attempt {
		t, err := cv.Validate(ctx, m, i)
		t.Index = i
		return attempt{t, err}
	})
	if err != nil {
		return Trial{}, nil, err
	}

	var done []Trial
	for _, a := range results {
		if a.err != nil {
			opsf("cross validation trial %d: %v", a.t.Index, a.err)
			continue
		}
		done = append(done, a.t)
	}
	if len(done) == 0 {
		return Trial{}, nil, fmt.Errorf("all %d cross validation trials failed", trials)
	}
	best := done[0]
	for _, t := range done[1:] {
		if t.Score > best.Score {
			best = t
		}
	}
	diagf("cross validation: best trial %d score %.4f params %v", best.Index, best.Score, best.Params)
	return best, done, nil
}

// PCANearestNeighbour is the reference CrossValidator: it draws a number of
// PCA components from Components, splits the matrix into train and test sets
// at random, and scores 1-nearest-neighbour accuracy in PCA space.
type PCANearestNeighbour struct {
	Components   []int
	TestFraction float64
	Seed         uint64
}

// Validate implements CrossValidator.
func (v PCANearestNeighbour) Validate(ctx context.Context, m *DataMatrix, trial int) (Trial, error) {
	if len(v.Components) == 0 {
		return Trial{}, fmt.Errorf("no candidate component counts")
	}
	frac := v.TestFraction
	if !(frac > 0 && frac < 1) {
		frac = 0.5
	}
	n := m.Len()
	nTest := int(math.Round(frac * float64(n)))
	if nTest < 1 || n-nTest < 2 {
		return Trial{}, fmt.Errorf("cannot split %d objects with test fraction %g", n, frac)
	}

	rng := rand.New(rand.NewPCG(v.Seed, uint64(trial)))
	ncomp := v.Components[rng.IntN(len(v.Components))]
	perm := rng.Perm(n)
	test, train := perm[:nTest], perm[nTest:]
	sort.Ints(test)
	sort.Ints(train)

	trainM, testM := m.Subset(train), m.Subset(test)
	xTrain, err := trainM.Dense()
	if err != nil {
		return Trial{}, err
	}
	xTest, err := testM.Dense()
	if err != nil {
		return Trial{}, err
	}
	if err := ctx.Err(); err != nil {
		return Trial{}, err
	}

	pca := &PCA{Components: ncomp}
	if err := pca.Fit(xTrain); err != nil {
		return Trial{}, err
	}
	zTrain, err := pca.Transform(xTrain)
	if err != nil {
		return Trial{}, err
	}
	zTest, err := pca.Transform(xTest)
	if err != nil {
		return Trial{}, err
	}

	correct := 0
	for i := range test {
		if nearestLabel(zTest.RawRowView(i), zTrain, trainM.Types) == testM.Types[i] {
			correct++
		}
	}
	return Trial{
		Params: map[string]float64{"ncomp": float64(ncomp)},
		Score:  float64(correct) / float64(nTest),
	}, nil
}

func nearestLabel(x []float64, train *mat.Dense, labels []string) string {
	r, _ := train.Dims()
	best, bestD := 0, math.Inf(1)
	for i := 0; i < r; i++ {
		if d := floats.Distance(x, train.RawRowView(i), 2); d < bestD {
			best, bestD = i, d
		}
	}
	return labels[best]
}
