package ensemble

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rewired-gh/tradeguard/internal/stats"
)

const (
	eulerGamma       = 0.5772156649015329
	defaultMaxSample = 256
)

// ForestConfig configures an isolation forest.
type ForestConfig struct {
	NEstimators   int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// DefaultForestConfig returns 100 trees, up to 256 samples per tree,
// 10% contamination and seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NEstimators:   100,
		MaxSamples:    defaultMaxSample,
		Contamination: 0.1,
		Seed:          42,
	}
}

// isoTree is a flattened isolation tree. Leaves have Feature == -1.
type isoTree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Size      []int     `json:"size"`
}

// IsolationForest isolates points by random axis-aligned partitioning.
// Points that are isolated after few splits are anomalous.
type IsolationForest struct {
	Trees      []isoTree `json:"trees"`
	SampleSize int       `json:"sample_size"`
	// Offset is the contamination percentile of the training scores; a score
	// below it is an outlier.
	Offset float64 `json:"offset"`
}

// FitForest grows the forest on x and calibrates the decision offset.
func FitForest(x [][]float64, cfg ForestConfig) *IsolationForest {
	n := len(x)
	psi := cfg.MaxSamples
	if psi <= 0 || psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))
	rng := rand.New(rand.NewSource(cfg.Seed))

	f := &IsolationForest{
		Trees:      make([]isoTree, 0, cfg.NEstimators),
		SampleSize: psi,
	}
	for t := 0; t < cfg.NEstimators; t++ {
		idx := rng.Perm(n)[:psi]
		var tree isoTree
		tree.grow(x, idx, 0, maxDepth, rng)
		f.Trees = append(f.Trees, tree)
	}

	f.Offset = stats.Percentile(f.ScoreSamples(x), 100*cfg.Contamination)
	return f
}

// grow appends the subtree for idx and returns its node index.
func (t *isoTree) grow(x [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) int {
	node := len(t.Feature)
	t.Feature = append(t.Feature, -1)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, -1)
	t.Right = append(t.Right, -1)
	t.Size = append(t.Size, len(idx))

	if depth >= maxDepth || len(idx) <= 1 {
		return node
	}

	feature, lo, hi, ok := pickSplitFeature(x, idx, rng)
	if !ok {
		return node
	}
	threshold := lo + rng.Float64()*(hi-lo)
	if threshold >= hi {
		threshold = lo
	}

	var left, right []int
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.Feature[node] = feature
	t.Threshold[node] = threshold
	l := t.grow(x, left, depth+1, maxDepth, rng)
	r := t.grow(x, right, depth+1, maxDepth, rng)
	t.Left[node] = l
	t.Right[node] = r
	return node
}

// pickSplitFeature draws features in random order until one is not constant
// over idx. ok is false when every feature is constant.
func pickSplitFeature(x [][]float64, idx []int, rng *rand.Rand) (int, float64, float64, bool) {
	dims := len(x[idx[0]])
	for _, j := range rng.Perm(dims) {
		lo, hi := x[idx[0]][j], x[idx[0]][j]
		for _, i := range idx[1:] {
			v := x[i][j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return j, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// validate checks that the flattened arrays agree and that every split points
// at an in-range feature and at children stored after it.
func (t *isoTree) validate(dims int) error {
	n := len(t.Feature)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Size) != n {
		return fmt.Errorf("tree arrays differ in length")
	}
	for node := 0; node < n; node++ {
		if t.Size[node] < 0 {
			return fmt.Errorf("node %d: negative size %d", node, t.Size[node])
		}
		if t.Feature[node] < 0 {
			continue
		}
		if t.Feature[node] >= dims {
			return fmt.Errorf("node %d: feature %d out of range [0, %d)", node, t.Feature[node], dims)
		}
		for _, child := range []int{t.Left[node], t.Right[node]} {
			if child <= node || child >= n {
				return fmt.Errorf("node %d: child %d out of range", node, child)
			}
		}
	}
	return nil
}

// Validate checks the structure of a deserialized forest against the feature
// width it will score.
func (f *IsolationForest) Validate(dims int) error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	if f.SampleSize < 1 {
		return fmt.Errorf("sample size %d must be positive", f.SampleSize)
	}
	if math.IsNaN(f.Offset) || math.IsInf(f.Offset, 0) {
		return fmt.Errorf("offset is not finite")
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(dims); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (t *isoTree) pathLength(p []float64) float64 {
	node, depth := 0, 0
	for t.Feature[node] >= 0 {
		if p[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.Size[node])
}

// ScoreSamples returns -2^(-E[h(x)]/c(psi)) per row, in [-1, 0].
// Lower is more anomalous.
func (f *IsolationForest) ScoreSamples(x [][]float64) []float64 {
	scores := make([]float64, len(x))
	norm := averagePathLength(f.SampleSize)
	if norm == 0 || len(f.Trees) == 0 {
		for i := range scores {
			scores[i] = -1
		}
		return scores
	}
	for i, p := range x {
		var total float64
		for k := range f.Trees {
			total += f.Trees[k].pathLength(p)
		}
		mean := total / float64(len(f.Trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores
}

// Predict flags rows whose score falls strictly below the offset.
func (f *IsolationForest) Predict(scores []float64) []bool {
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s-f.Offset < 0
	}
	return out
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
