// Package infer owns loaded classification models and runs synchronous
// inference against them.
//
// # Architecture
//
// The package exposes three core pieces:
//
//   - [Backend]: an inference engine (e.g. the TFLite runtime) that can
//     load model bytes onto a specific [Accelerator]
//   - [Handle]: one loaded model: session, declared I/O shape,
//     quantization flag, and the accelerator it landed on
//   - [Unit]: the execution unit: resolves assets, walks the
//     accelerator preference list on load failure, deduplicates
//     concurrent loads, and swaps model variants atomically
//
// The unit is threshold-agnostic: it returns full probability vectors
// and leaves confidence filtering to the caller.
package infer

import (
	"errors"
	"fmt"
	"strings"
)

// Accelerator identifies an execution backend for model inference.
type Accelerator int

const (
	// AccelGPU is a GPU delegate, preferred for floating-point models.
	AccelGPU Accelerator = iota

	// AccelNNAPI is the vendor neural-accelerator path, preferred for
	// quantized models.
	AccelNNAPI

	// AccelXNNPack is the portable optimized CPU kernel path.
	AccelXNNPack

	// AccelCPU is the naive CPU reference path, the last resort.
	AccelCPU
)

func (a Accelerator) String() string {
	switch a {
	case AccelGPU:
		return "gpu"
	case AccelNNAPI:
		return "nnapi"
	case AccelXNNPack:
		return "xnnpack"
	case AccelCPU:
		return "cpu"
	default:
		return fmt.Sprintf("Accelerator(%d)", int(a))
	}
}

// ParseAccelerator parses an accelerator name as written in config
// files ("gpu", "nnapi", "xnnpack", "cpu").
func ParseAccelerator(s string) (Accelerator, error) {
	switch s {
	case "gpu":
		return AccelGPU, nil
	case "nnapi":
		return AccelNNAPI, nil
	case "xnnpack":
		return AccelXNNPack, nil
	case "cpu":
		return AccelCPU, nil
	}
	return 0, fmt.Errorf("infer: unknown accelerator %q", s)
}

// PreferenceOrder returns the accelerator fallback order for a model.
// Floating-point models prefer the GPU delegate; quantized models prefer
// the vendor neural-accelerator path. Both fall back through optimized
// CPU kernels to the naive CPU path.
func PreferenceOrder(quantized bool) []Accelerator {
	if quantized {
		return []Accelerator{AccelNNAPI, AccelGPU, AccelXNNPack, AccelCPU}
	}
	return []Accelerator{AccelGPU, AccelNNAPI, AccelXNNPack, AccelCPU}
}

// ErrAcceleratorUnavailable is returned by a Backend when the requested
// accelerator is not present on this device or build. The Unit responds
// by trying the next accelerator in the preference order.
var ErrAcceleratorUnavailable = errors.New("infer: accelerator unavailable")

// Spec describes one model asset: where to find it and the I/O contract
// it was exported with.
type Spec struct {
	// Name is the logical asset name resolved through the asset source
	// (e.g. "bird_classifier.tflite").
	Name string `yaml:"name"`

	// Input spatial shape. Zero means the model accepts a flat vector
	// of InputSize values instead.
	InputHeight   int `yaml:"input_height"`
	InputWidth    int `yaml:"input_width"`
	InputChannels int `yaml:"input_channels"`

	// InputSize is the flat input length for vector models (meta model).
	InputSize int `yaml:"input_size"`

	// OutputSize is the length of the output vector (species count).
	OutputSize int `yaml:"output_size"`

	// Quantized marks integer-quantized exports; it steers accelerator
	// preference toward the vendor NPU path.
	Quantized bool `yaml:"quantized"`

	// RawLogits marks models whose outputs need logistic activation.
	// When false, activation is still applied if outputs are detected
	// outside [0, 1].
	RawLogits bool `yaml:"raw_logits"`
}

// inputLen returns the expected flat input length.
func (s Spec) inputLen() int {
	if s.InputSize > 0 {
		return s.InputSize
	}
	return s.InputHeight * s.InputWidth * s.InputChannels
}

// Session is one loaded model instance inside a Backend.
type Session interface {
	// Run executes synchronous inference on a flat input vector and
	// returns the raw output vector.
	Run(input []float32) ([]float32, error)

	// Close releases the session's resources.
	Close() error
}

// Backend is an inference engine capable of loading model bytes onto a
// specific accelerator. Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the engine (e.g. "tflite").
	Name() string

	// Load creates a session for the model on the given accelerator.
	// Returns an error wrapping ErrAcceleratorUnavailable when the
	// accelerator is not usable on this device.
	Load(model []byte, accel Accelerator) (Session, error)
}

// Handle is an opaque reference to one loaded model. Handles are owned
// by the Unit that created them and disposed on Close or model switch.
type Handle struct {
	spec    Spec
	accel   Accelerator
	session Session
}

// Spec returns the model's declared I/O contract.
func (h *Handle) Spec() Spec { return h.spec }

// Accelerator returns the accelerator the model actually loaded on.
func (h *Handle) Accelerator() Accelerator { return h.accel }

// LoadError reports that a model failed to load on every accelerator in
// the preference order. It is recoverable: callers retry with another
// model or fall back to remote classification.
type LoadError struct {
	Asset string
	Errs  []error
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("infer: load %s: all accelerators failed: %s",
		e.Asset, strings.Join(msgs, "; "))
}

func (e *LoadError) Unwrap() []error { return e.Errs }

// InferError reports a synchronous inference failure. The unit does not
// retry; the caller decides whether to switch models or fall back.
type InferError struct {
	Asset string
	Accel Accelerator
	Err   error
}

func (e *InferError) Error() string {
	return fmt.Sprintf("infer: run %s on %s: %v", e.Asset, e.Accel, e.Err)
}

func (e *InferError) Unwrap() error { return e.Err }
