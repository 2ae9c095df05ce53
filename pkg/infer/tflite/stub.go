//go:build !tflite

package tflite

import (
	"fmt"

	"github.com/perchlabs/birdsense/pkg/infer"
)

// Backend is the no-op stand-in compiled without the tflite build tag.
// Every load fails with ErrAcceleratorUnavailable, so the execution
// unit exhausts its preference list and the orchestrator falls back to
// the remote service.
type Backend struct{}

// New creates the stub backend.
func New() *Backend { return &Backend{} }

// Name identifies the engine.
func (*Backend) Name() string { return "tflite" }

// Load always fails: no runtime is linked into this build.
func (*Backend) Load(_ []byte, accel infer.Accelerator) (infer.Session, error) {
	return nil, fmt.Errorf("tflite: built without tflite support (%s): %w",
		accel, infer.ErrAcceleratorUnavailable)
}
