// Package melspec computes fixed-shape log mel spectrogram tensors from
// decoded audio.
//
// This is the front end for the on-device bird classifiers. The pipeline
// per clip:
//
//  1. Split samples into overlapping Hann-windowed frames
//  2. FFT each frame, keep the magnitude of the real-signal half
//  3. Triangular mel filter bank + log compression
//  4. Bilinear resize to the model's spatial input shape
//  5. Replicate the single channel to the model's channel count
//
// Extraction is pure: the same samples and config always produce the
// same tensor, so results are safe to fingerprint and cache.
package melspec

import (
	"math"

	"github.com/perchlabs/birdsense/pkg/audio"
)

// Config controls spectrogram extraction parameters.
type Config struct {
	SampleRate int `yaml:"sample_rate"` // expected input rate in Hz (default 48000)
	WindowSize int `yaml:"window_size"` // analysis window length in samples (default 2048)
	HopSize    int `yaml:"hop_size"`    // stride between windows (default 512)
	MelFilters int `yaml:"mel_filters"` // number of mel bins (default 128)

	// OutHeight and OutWidth are the model's spatial input shape the
	// (frequency × time) matrix is resized to (default 224×224).
	OutHeight int `yaml:"out_height"`
	OutWidth  int `yaml:"out_width"`

	// Channels replicates the spectrogram to multi-channel input for
	// image-architecture models (default 3).
	Channels int `yaml:"channels"`

	// Normalize rescales the final tensor to [0, 1] (default true).
	Normalize bool `yaml:"normalize"`
}

// DefaultConfig returns the extraction parameters the stock bird
// classifier was trained with: 48 kHz input, 128 mel bins, 224×224×3
// normalized output.
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		WindowSize: 2048,
		HopSize:    512,
		MelFilters: 128,
		OutHeight:  224,
		OutWidth:   224,
		Channels:   3,
		Normalize:  true,
	}
}

// fill replaces zero fields with defaults.
func (c Config) fill() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.HopSize <= 0 {
		c.HopSize = d.HopSize
	}
	if c.MelFilters <= 0 {
		c.MelFilters = d.MelFilters
	}
	if c.OutHeight <= 0 {
		c.OutHeight = d.OutHeight
	}
	if c.OutWidth <= 0 {
		c.OutWidth = d.OutWidth
	}
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	return c
}

// Tensor is a fixed-shape feature tensor in height × width × channel
// layout. It is created once per extraction and never mutated after.
type Tensor struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

// At returns the value at (row, col, channel).
func (t *Tensor) At(row, col, ch int) float32 {
	return t.Data[(row*t.Width+col)*t.Channels+ch]
}

// logFloor avoids log(0) → -Inf in silent mel bins.
const logFloor = 1e-10

// Extractor computes log mel spectrogram tensors. The Hann window and
// mel filter bank are precomputed once per config.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank [][]float64
	fftSize int
}

// New creates an Extractor with the given config. Zero-valued fields
// take their defaults.
func New(cfg Config) *Extractor {
	cfg = cfg.fill()
	fftSize := nextPow2(cfg.WindowSize)
	return &Extractor{
		cfg:     cfg,
		window:  hannWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.MelFilters, fftSize, cfg.SampleRate),
		fftSize: fftSize,
	}
}

// Config returns the effective (default-filled) configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Extract computes the fixed-shape log mel tensor for a clip.
// Returns nil if the clip is shorter than one analysis window.
func (e *Extractor) Extract(sample *audio.Sample) *Tensor {
	cfg := e.cfg
	pcm := sample.Data
	if len(pcm) < cfg.WindowSize {
		return nil
	}

	numFrames := (len(pcm)-cfg.WindowSize)/cfg.HopSize + 1
	halfBins := e.fftSize / 2

	// mel[f][t]: frequency-major so the resize sees a (freq × time) image.
	mel := make([][]float64, cfg.MelFilters)
	for m := range mel {
		mel[m] = make([]float64, numFrames)
	}

	re := make([]float64, e.fftSize)
	im := make([]float64, e.fftSize)
	mag := make([]float64, halfBins)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		for i := 0; i < cfg.WindowSize; i++ {
			re[i] = float64(pcm[start+i]) * e.window[i]
		}
		for i := cfg.WindowSize; i < e.fftSize; i++ {
			re[i] = 0
		}
		for i := range im {
			im[i] = 0
		}
		fft(re, im)

		for i := 0; i < halfBins; i++ {
			mag[i] = math.Sqrt(re[i]*re[i] + im[i]*im[i])
		}

		for m := 0; m < cfg.MelFilters; m++ {
			sum := 0.0
			for k, w := range e.melBank[m] {
				sum += w * mag[k]
			}
			if sum < logFloor {
				sum = logFloor
			}
			mel[m][t] = math.Log(sum)
		}
	}

	plane := resizeBilinear(mel, cfg.OutHeight, cfg.OutWidth)
	if cfg.Normalize {
		normalizeMinMax(plane)
	}
	return replicate(plane, cfg.Channels)
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
