package infer

import "math"

// WeekCosine maps a week of the year (1–48, BirdNET's 48-week calendar)
// into a cyclic value in [0, 2]: cos(week·7.5°) + 1. The meta model was
// trained on this encoding so that week 48 wraps smoothly into week 1.
func WeekCosine(week int) float32 {
	return float32(math.Cos(float64(week)*7.5*math.Pi/180) + 1)
}

// MetaFeatures builds the meta model's input vector from an observation
// location and week of year.
func MetaFeatures(latitude, longitude float64, week int) []float32 {
	return []float32{float32(latitude), float32(longitude), WeekCosine(week)}
}

// Blend re-weights audio-model probabilities by the meta model's
// per-species likelihood multipliers:
//
//	blended[i] = audio[i] · (1 − influence + influence·meta[i])
//
// Species beyond the meta vector's range receive audio[i]·(1−influence).
// This attenuates species the meta model considers unlikely for the
// location and season without ever zeroing them, so vagrants and
// out-of-range sightings keep non-zero recall. influence is clamped to
// [0, 1].
func Blend(audioProb, metaProb []float32, influence float32) []float32 {
	if influence < 0 {
		influence = 0
	} else if influence > 1 {
		influence = 1
	}
	out := make([]float32, len(audioProb))
	base := 1 - influence
	for i, p := range audioProb {
		if i < len(metaProb) {
			out[i] = p * (base + influence*metaProb[i])
		} else {
			out[i] = p * base
		}
	}
	return out
}
