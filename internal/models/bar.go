// Package models defines the core domain entities: bars, series, and the
// per-day rows produced by each stage of the surveillance pipeline.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Bar is one trading day of OHLCV data for a symbol.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// FieldError names the bar field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validate checks that every OHLCV field is a finite number and returns a
// *FieldError for the first one that is not.
// Price-consistency invariants (high >= low, ...) are not enforced here;
// the engine degrades gracefully when they are violated.
func (b *Bar) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
		{"volume", b.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &FieldError{Field: f.name, Reason: "must be a finite number"}
		}
	}
	return nil
}

// Series is an ordered sequence of bars for exactly one symbol.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s Series) Len() int {
	return len(s.Bars)
}

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the volumes in order.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// ErrEmptySeries is returned when a series carries no bars.
var ErrEmptySeries = errors.New("series must contain at least one bar")
