package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rewired-gh/tradeguard/internal/features"
)

// ErrModelNotFound is returned by a ModelStore when nothing is stored under
// the requested name.
var ErrModelNotFound = errors.New("model not found")

// ModelStore is a named blob location for persisted models. The backend is
// up to the caller.
type ModelStore interface {
	SaveModel(name string, blob []byte) error
	LoadModel(name string) ([]byte, error)
}

// ModelStoreError reports a failed load or save. It is never fatal to an
// analysis: callers log it and fall back to a fresh per-call fit.
type ModelStoreError struct {
	Op   string
	Name string
	Err  error
}

func (e *ModelStoreError) Error() string {
	return fmt.Sprintf("model store %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ModelStoreError) Unwrap() error {
	return e.Err
}

// Model is an explicitly shared isolation forest plus the scaler it was fitted
// behind. Fitting takes the write lock; scoring a fitted model takes the read
// lock, so concurrent analyses may score against it while refits serialize.
type Model struct {
	mu     sync.RWMutex
	forest *IsolationForest
	scaler *Scaler
}

// NewModel returns an unfitted handle. The first analysis that uses it fits
// it; later analyses score against it without refitting.
func NewModel() *Model {
	return &Model{}
}

// Fitted reports whether the handle carries a forest and scaler.
func (m *Model) Fitted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forest != nil && m.scaler != nil
}

// Reset drops the fitted state so the next analysis refits.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forest = nil
	m.scaler = nil
}

// scoreOrFit scores x against the fitted model, fitting it first under the
// write lock when needed. It returns the standardized matrix alongside the
// forest scores and flags.
func (m *Model) scoreOrFit(x [][]float64, cfg ForestConfig) ([][]float64, []float64, []bool) {
	m.mu.RLock()
	if m.forest != nil && m.scaler != nil {
		defer m.mu.RUnlock()
		return scoreWith(m.forest, m.scaler, x)
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forest == nil || m.scaler == nil {
		m.scaler = FitScaler(x)
		m.forest = FitForest(m.scaler.Transform(x), cfg)
	}
	return scoreWith(m.forest, m.scaler, x)
}

func scoreWith(f *IsolationForest, s *Scaler, x [][]float64) ([][]float64, []float64, []bool) {
	scaled := s.Transform(x)
	scores := f.ScoreSamples(scaled)
	return scaled, scores, f.Predict(scores)
}

func forestKey(name string) string { return name + ".forest" }
func scalerKey(name string) string { return name + ".scaler" }

// Save writes the forest and scaler as two blobs under name.
func (m *Model) Save(store ModelStore, name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.forest == nil || m.scaler == nil {
		return &ModelStoreError{Op: "save", Name: name, Err: fmt.Errorf("model is not fitted")}
	}

	forestBlob, err := json.Marshal(m.forest)
	if err != nil {
		return &ModelStoreError{Op: "save", Name: name, Err: fmt.Errorf("failed to marshal forest: %w", err)}
	}
	scalerBlob, err := json.Marshal(m.scaler)
	if err != nil {
		return &ModelStoreError{Op: "save", Name: name, Err: fmt.Errorf("failed to marshal scaler: %w", err)}
	}
	if err := store.SaveModel(forestKey(name), forestBlob); err != nil {
		return &ModelStoreError{Op: "save", Name: name, Err: err}
	}
	if err := store.SaveModel(scalerKey(name), scalerBlob); err != nil {
		return &ModelStoreError{Op: "save", Name: name, Err: err}
	}
	return nil
}

// LoadModel restores a fitted handle previously written with Save. Blobs that
// decode but do not describe a usable model are rejected.
func LoadModel(store ModelStore, name string) (*Model, error) {
	forestBlob, err := store.LoadModel(forestKey(name))
	if err != nil {
		return nil, &ModelStoreError{Op: "load", Name: name, Err: err}
	}
	scalerBlob, err := store.LoadModel(scalerKey(name))
	if err != nil {
		return nil, &ModelStoreError{Op: "load", Name: name, Err: err}
	}

	var forest IsolationForest
	if err := json.Unmarshal(forestBlob, &forest); err != nil {
		return nil, &ModelStoreError{Op: "load", Name: name, Err: fmt.Errorf("failed to unmarshal forest: %w", err)}
	}
	var scaler Scaler
	if err := json.Unmarshal(scalerBlob, &scaler); err != nil {
		return nil, &ModelStoreError{Op: "load", Name: name, Err: fmt.Errorf("failed to unmarshal scaler: %w", err)}
	}
	if err := forest.Validate(features.ModelDims); err != nil {
		return nil, &ModelStoreError{Op: "load", Name: name, Err: fmt.Errorf("invalid forest: %w", err)}
	}
	if err := scaler.Validate(features.ModelDims); err != nil {
		return nil, &ModelStoreError{Op: "load", Name: name, Err: fmt.Errorf("invalid scaler: %w", err)}
	}

	return &Model{forest: &forest, scaler: &scaler}, nil
}
