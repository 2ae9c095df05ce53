// Package predict defines the species prediction types shared by the
// on-device, remote, and cache paths.
package predict

import (
	"sort"
	"time"
)

// Prediction is one ranked species hypothesis.
type Prediction struct {
	// CommonName is the species common name (e.g. "Wood Thrush").
	CommonName string `json:"common_name" msgpack:"common_name"`

	// ScientificName is the binomial name (e.g. "Hylocichla mustelina").
	ScientificName string `json:"scientific_name" msgpack:"scientific_name"`

	// Confidence is the model's probability for this species, in [0, 1].
	Confidence float32 `json:"confidence" msgpack:"confidence"`

	// StartTime and EndTime optionally locate the detection within the
	// clip. Both zero when the detection covers the whole clip.
	StartTime time.Duration `json:"start_time,omitempty" msgpack:"start_time"`
	EndTime   time.Duration `json:"end_time,omitempty" msgpack:"end_time"`
}

// Set is an ordered sequence of predictions, sorted by descending
// confidence. Duplicate species are allowed (overlapping analysis
// windows can each report the same bird); the ordering invariant must
// hold after every mutation.
type Set []Prediction

// Sort restores the descending-confidence ordering. The sort is stable
// so equal-confidence predictions keep their relative order.
func (s Set) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Confidence > s[j].Confidence
	})
}

// Filter returns the predictions with confidence >= threshold,
// preserving order.
func (s Set) Filter(threshold float32) Set {
	out := make(Set, 0, len(s))
	for _, p := range s {
		if p.Confidence >= threshold {
			out = append(out, p)
		}
	}
	return out
}

// Cap returns at most n predictions. n <= 0 means no cap.
func (s Set) Cap(n int) Set {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// Top returns the highest-confidence prediction, or false for an empty
// set.
func (s Set) Top() (Prediction, bool) {
	if len(s) == 0 {
		return Prediction{}, false
	}
	return s[0], true
}
