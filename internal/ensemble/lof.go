package ensemble

import (
	"math"
	"sort"

	"github.com/rewired-gh/tradeguard/internal/stats"
)

// lrdEpsilon keeps the local reachability density finite for duplicates.
const lrdEpsilon = 1e-10

// LOFResult carries the per-row local outlier factor and its verdict.
type LOFResult struct {
	// NegativeOutlierFactor is -LOF; lower is more anomalous.
	NegativeOutlierFactor []float64
	Offset                float64
	Outlier               []bool
}

// Factors returns LOF itself (the sign-flipped negative factor), where
// higher is more anomalous.
func (r LOFResult) Factors() []float64 {
	out := make([]float64, len(r.NegativeOutlierFactor))
	for i, v := range r.NegativeOutlierFactor {
		out[i] = -v
	}
	return out
}

type neighbor struct {
	index int
	dist  float64
}

// LocalOutlierFactor fits the local-density model on x and flags the
// contamination fraction with the lowest negative outlier factor. The
// neighbourhood is capped at len(x)-1.
func LocalOutlierFactor(x [][]float64, nNeighbors int, contamination float64) LOFResult {
	n := len(x)
	res := LOFResult{
		NegativeOutlierFactor: make([]float64, n),
		Outlier:               make([]bool, n),
	}
	if n < 2 {
		return res
	}
	k := nNeighbors
	if k > n-1 {
		k = n - 1
	}
	if k < 1 {
		k = 1
	}

	neighbors := make([][]neighbor, n)
	kdist := make([]float64, n)
	for i := 0; i < n; i++ {
		cand := make([]neighbor, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			cand = append(cand, neighbor{index: j, dist: euclidean(x[i], x[j])})
		}
		sort.SliceStable(cand, func(a, b int) bool { return cand[a].dist < cand[b].dist })
		neighbors[i] = cand[:k]
		kdist[i] = cand[k-1].dist
	}

	lrd := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, nb := range neighbors[i] {
			sum += math.Max(kdist[nb.index], nb.dist)
		}
		lrd[i] = 1 / (sum/float64(k) + lrdEpsilon)
	}

	for i := 0; i < n; i++ {
		var sum float64
		for _, nb := range neighbors[i] {
			sum += lrd[nb.index]
		}
		res.NegativeOutlierFactor[i] = -(sum / float64(k)) / lrd[i]
	}

	res.Offset = stats.Percentile(res.NegativeOutlierFactor, 100*contamination)
	for i, v := range res.NegativeOutlierFactor {
		res.Outlier[i] = v < res.Offset
	}
	return res
}

func euclidean(a, b []float64) float64 {
	var ss float64
	for i := range a {
		d := a[i] - b[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}
