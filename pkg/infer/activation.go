package infer

import "math"

// looksLikeLogits reports whether an output vector appears to be raw
// logits rather than probabilities: any value outside [0, 1].
func looksLikeLogits(v []float32) bool {
	for _, x := range v {
		if x < 0 || x > 1 {
			return true
		}
	}
	return false
}

// applySigmoid maps logits to probabilities in place via the logistic
// function 1/(1+e^-x).
func applySigmoid(v []float32) {
	for i, x := range v {
		v[i] = float32(1 / (1 + math.Exp(-float64(x))))
	}
}
