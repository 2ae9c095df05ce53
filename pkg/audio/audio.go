// Package audio provides decoded audio sample sequences for the
// classification pipeline.
//
// A [Sample] is mono float32 PCM normalized to [-1, 1], tagged with its
// sample rate. Decoders (see the wav subpackage) produce Samples; the
// melspec package consumes them. Samples are treated as immutable after
// decoding.
package audio

import (
	"errors"
	"time"
)

// Decode-stage content errors. Both are recoverable: the orchestrator
// responds by falling back, never by crashing.
var (
	// ErrUnsupportedFormat is returned when the container header or
	// sample encoding is not recognized.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")

	// ErrEmptyAudio is returned when the container parses but carries a
	// zero-length payload.
	ErrEmptyAudio = errors.New("audio: empty audio payload")
)

// Sample is a decoded mono audio clip: normalized float32 amplitudes in
// [-1, 1] at a known sample rate.
type Sample struct {
	// Data is the amplitude sequence. Not mutated after decode.
	Data []float32

	// Rate is the sample rate in Hz.
	Rate int
}

// Duration returns the clip length.
func (s *Sample) Duration() time.Duration {
	if s.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Data)) / float64(s.Rate) * float64(time.Second))
}

// Resample converts s to the target sample rate using linear
// interpolation: output index i reads source position i·(native/target)
// and interpolates between the two neighboring samples.
//
// Linear interpolation is not band-limited, but it is cheap and accurate
// enough for mel spectrogram extraction at the granularity the models
// consume. When the target rate equals the native rate the sample is
// returned unchanged.
func Resample(s *Sample, rate int) *Sample {
	if s.Rate == rate || len(s.Data) == 0 {
		return s
	}

	ratio := float64(s.Rate) / float64(rate)
	n := int(float64(len(s.Data)) / ratio)
	if n < 1 {
		n = 1
	}

	out := make([]float32, n)
	last := len(s.Data) - 1
	for i := range out {
		pos := float64(i) * ratio
		lo := int(pos)
		if lo >= last {
			out[i] = s.Data[last]
			continue
		}
		frac := float32(pos - float64(lo))
		out[i] = s.Data[lo]*(1-frac) + s.Data[lo+1]*frac
	}
	return &Sample{Data: out, Rate: rate}
}
