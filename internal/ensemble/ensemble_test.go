package ensemble

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/tradeguard/internal/models"
)

// cluster returns n points around the origin plus one far outlier at the end.
func cluster(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		x = append(x, []float64{rng.NormFloat64(), rng.NormFloat64()})
	}
	return append(x, []float64{12, -12})
}

func argmin(v []float64) int {
	best := 0
	for i := range v {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestForest_IsolatesOutlier(t *testing.T) {
	x := cluster(60, 7)
	f := FitForest(x, DefaultForestConfig())
	scores := f.ScoreSamples(x)

	for _, s := range scores {
		assert.GreaterOrEqual(t, s, -1.0)
		assert.LessOrEqual(t, s, 0.0)
	}
	assert.Equal(t, len(x)-1, argmin(scores), "the far point has the lowest score")

	flags := f.Predict(scores)
	assert.True(t, flags[len(x)-1])
	var flagged int
	for _, b := range flags {
		if b {
			flagged++
		}
	}
	assert.LessOrEqual(t, flagged, int(math.Ceil(0.1*float64(len(x)))))
}

func TestForest_DeterministicForSeed(t *testing.T) {
	x := cluster(40, 3)
	a := FitForest(x, DefaultForestConfig()).ScoreSamples(x)
	b := FitForest(x, DefaultForestConfig()).ScoreSamples(x)
	assert.Equal(t, a, b)
}

func TestForest_IdenticalPointsAreNotFlagged(t *testing.T) {
	x := make([][]float64, 30)
	for i := range x {
		x[i] = []float64{1, 1, 1}
	}
	f := FitForest(x, DefaultForestConfig())
	for i, b := range f.Predict(f.ScoreSamples(x)) {
		assert.False(t, b, "row %d", i)
	}
}

func TestLOF_FlagsSparsePoint(t *testing.T) {
	x := cluster(40, 11)
	res := LocalOutlierFactor(x, 20, 0.1)
	factors := res.Factors()

	require.Len(t, factors, len(x))
	assert.Equal(t, len(x)-1, argmax(factors))
	assert.True(t, res.Outlier[len(x)-1])
	assert.Greater(t, factors[len(x)-1], 2.0)
}

func TestLOF_UniformGridIsNearOne(t *testing.T) {
	var x [][]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			x = append(x, []float64{float64(i), float64(j)})
		}
	}
	res := LocalOutlierFactor(x, 4, 0.1)
	center := 2*6 + 2
	assert.InDelta(t, 1.0, res.Factors()[center], 0.1)
}

func TestLOF_TinyInput(t *testing.T) {
	res := LocalOutlierFactor([][]float64{{1, 2}}, 20, 0.1)
	assert.Equal(t, []float64{0}, res.NegativeOutlierFactor)
	assert.Equal(t, []bool{false}, res.Outlier)
}

func TestScaler(t *testing.T) {
	x := [][]float64{{1, 5}, {2, 5}, {3, 5}}
	s := FitScaler(x)
	got := s.Transform(x)

	assert.InDelta(t, 2.0, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), s.Scale[0], 1e-12)
	assert.Equal(t, 1.0, s.Scale[1], "constant column keeps unit scale")
	assert.InDelta(t, 0.0, got[1][0], 1e-12)
	assert.Equal(t, 0.0, got[2][1])
	assert.Equal(t, 1.0, x[0][0], "input is not modified")
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) SaveModel(name string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.blobs[name] = append([]byte(nil), blob...)
	return nil
}

func (m *memStore) LoadModel(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	b, ok := m.blobs[name]
	if !ok {
		return nil, ErrModelNotFound
	}
	return b, nil
}

func featureRows(n int) []models.FeatureRow {
	rng := rand.New(rand.NewSource(5))
	rows := make([]models.FeatureRow, n)
	for i := range rows {
		rows[i] = models.FeatureRow{
			Returns:      rng.NormFloat64() * 0.01,
			VolumeRatio:  1 + rng.NormFloat64()*0.1,
			Volatility5:  0.01 + rng.Float64()*0.005,
			PriceZScore:  rng.NormFloat64(),
			VolumeZScore: rng.NormFloat64(),
			PriceToSMA20: 1 + rng.NormFloat64()*0.02,
		}
	}
	rows[n-1].PriceZScore = 4
	rows[n-1].VolumeZScore = 4
	rows[n-1].Returns = 0.2
	return rows
}

func TestDetector_SkipsSmallBatches(t *testing.T) {
	res := NewDetector(DefaultConfig(), nil).Detect(featureRows(10))

	assert.True(t, res.Skipped)
	for i := range res.IFOutlier {
		assert.False(t, res.IFOutlier[i])
		assert.False(t, res.LOFOutlier[i])
		assert.Equal(t, 0.0, res.IFScore[i])
		assert.Equal(t, 0.0, res.LOFScore[i])
	}
}

func TestDetector_FlagsInjectedRow(t *testing.T) {
	rows := featureRows(50)
	res := NewDetector(DefaultConfig(), nil).Detect(rows)

	require.False(t, res.Skipped)
	assert.True(t, res.IFOutlier[49])
	assert.True(t, res.LOFOutlier[49])
	assert.Equal(t, 49, argmin(res.IFScore))
	assert.Equal(t, 49, argmax(res.LOFScore))

	det := make([]models.DetectionRow, len(rows))
	res.Apply(det)
	assert.True(t, det[49].MLAnomalyIF)
	assert.Equal(t, res.IFScore[49], det[49].MLScoreIF)
}

func TestModel_SaveLoadScoresIdentically(t *testing.T) {
	rows := featureRows(40)
	model := NewModel()
	assert.False(t, model.Fitted())

	fresh := NewDetector(DefaultConfig(), model).Detect(rows)
	require.True(t, model.Fitted())

	store := newMemStore()
	require.NoError(t, model.Save(store, "if"))
	assert.Contains(t, store.blobs, "if.forest")
	assert.Contains(t, store.blobs, "if.scaler")

	loaded, err := LoadModel(store, "if")
	require.NoError(t, err)
	require.True(t, loaded.Fitted())

	again := NewDetector(DefaultConfig(), loaded).Detect(rows)
	assert.Equal(t, fresh.IFScore, again.IFScore)
	assert.Equal(t, fresh.IFOutlier, again.IFOutlier)
}

func TestModel_FittedHandleIsNotRefitted(t *testing.T) {
	model := NewModel()
	first := featureRows(40)
	NewDetector(DefaultConfig(), model).Detect(first)

	other := featureRows(60)
	for i := range other {
		other[i].Returns *= 3
	}
	shared := NewDetector(DefaultConfig(), model).Detect(other)
	fresh := NewDetector(DefaultConfig(), nil).Detect(other)
	assert.NotEqual(t, fresh.IFScore, shared.IFScore, "shared handle scores with the first fit")

	model.Reset()
	assert.False(t, model.Fitted())
}

func TestModel_ConcurrentScoring(t *testing.T) {
	model := NewModel()
	rows := featureRows(30)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = NewDetector(DefaultConfig(), model).Detect(rows)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0].IFScore, results[i].IFScore)
	}
}

func TestModel_StoreErrors(t *testing.T) {
	store := newMemStore()

	_, err := LoadModel(store, "missing")
	var mse *ModelStoreError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, "load", mse.Op)
	assert.ErrorIs(t, err, ErrModelNotFound)

	err = NewModel().Save(store, "unfitted")
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, "save", mse.Op)

	boom := errors.New("disk full")
	model := NewModel()
	NewDetector(DefaultConfig(), model).Detect(featureRows(20))
	store.fail = boom
	err = model.Save(store, "if")
	assert.ErrorIs(t, err, boom)

	store.fail = nil
	store.blobs["bad.forest"] = []byte("{")
	store.blobs["bad.scaler"] = []byte("{}")
	_, err = LoadModel(store, "bad")
	assert.Error(t, err)
}

func TestLoadModel_RejectsMalformedStructure(t *testing.T) {
	store := newMemStore()
	model := NewModel()
	NewDetector(DefaultConfig(), model).Detect(featureRows(30))
	require.NoError(t, model.Save(store, "if"))
	goodForest, goodScaler := store.blobs["if.forest"], store.blobs["if.scaler"]

	_, err := LoadModel(store, "if")
	require.NoError(t, err)

	tests := []struct {
		name         string
		mutateForest func(f *IsolationForest)
		mutateScaler func(s *Scaler)
	}{
		{name: "no trees", mutateForest: func(f *IsolationForest) { f.Trees = nil }},
		{name: "child past the end", mutateForest: func(f *IsolationForest) {
			f.Trees[0] = isoTree{Feature: []int{3}, Threshold: []float64{0}, Left: []int{7}, Right: []int{7}, Size: []int{5}}
		}},
		{name: "child pointing backwards", mutateForest: func(f *IsolationForest) {
			f.Trees[0] = isoTree{Feature: []int{0, -1}, Threshold: []float64{0, 0}, Left: []int{0, -1}, Right: []int{1, -1}, Size: []int{2, 1}}
		}},
		{name: "feature out of range", mutateForest: func(f *IsolationForest) { f.Trees[0].Feature[0] = 8 }},
		{name: "ragged tree arrays", mutateForest: func(f *IsolationForest) { f.Trees[0].Size = f.Trees[0].Size[:1] }},
		{name: "zero sample size", mutateForest: func(f *IsolationForest) { f.SampleSize = 0 }},
		{name: "short scale", mutateScaler: func(s *Scaler) { s.Scale = s.Scale[:1] }},
		{name: "wrong width", mutateScaler: func(s *Scaler) { s.Mean, s.Scale = s.Mean[:4], s.Scale[:4] }},
		{name: "zero scale", mutateScaler: func(s *Scaler) { s.Scale[2] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var forest IsolationForest
			require.NoError(t, json.Unmarshal(goodForest, &forest))
			var scaler Scaler
			require.NoError(t, json.Unmarshal(goodScaler, &scaler))
			if tt.mutateForest != nil {
				tt.mutateForest(&forest)
			}
			if tt.mutateScaler != nil {
				tt.mutateScaler(&scaler)
			}
			fb, err := json.Marshal(&forest)
			require.NoError(t, err)
			sb, err := json.Marshal(&scaler)
			require.NoError(t, err)
			store.blobs["bad.forest"], store.blobs["bad.scaler"] = fb, sb

			_, err = LoadModel(store, "bad")
			var mse *ModelStoreError
			require.ErrorAs(t, err, &mse)
			assert.Equal(t, "load", mse.Op)
		})
	}
}
