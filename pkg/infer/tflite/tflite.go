//go:build tflite

// Package tflite implements the inference backend on the TensorFlow
// Lite C API.
//
// The library is dynamically linked via CGo; build with -tags tflite
// and libtensorflowlite_c on the linker path. Without the tag the
// package compiles to a stub whose loads always fail, which the
// execution unit reports as accelerator exhaustion.
//
// Desktop builds link no GPU or NNAPI delegate, so those accelerators
// report unavailable and the unit falls through to the CPU paths;
// XNNPack kernels are TFLite's default CPU path in current releases.
package tflite

/*
#cgo LDFLAGS: -ltensorflowlite_c
#include <stdlib.h>
#include <tensorflow/lite/c/c_api.h>
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/perchlabs/birdsense/pkg/infer"
)

// Backend loads TFLite flatbuffer models.
type Backend struct{}

// New creates a TFLite backend.
func New() *Backend { return &Backend{} }

// Name identifies the engine.
func (*Backend) Name() string { return "tflite" }

// Load creates an interpreter for the model on the given accelerator.
func (*Backend) Load(model []byte, accel infer.Accelerator) (infer.Session, error) {
	switch accel {
	case infer.AccelGPU, infer.AccelNNAPI:
		return nil, fmt.Errorf("tflite: %s delegate not linked in this build: %w",
			accel, infer.ErrAcceleratorUnavailable)
	}

	// The model buffer must outlive the interpreter; keep our own copy
	// in C memory so the Go slice can be collected.
	buf := C.CBytes(model)
	m := C.TfLiteModelCreate(buf, C.size_t(len(model)))
	if m == nil {
		C.free(buf)
		return nil, fmt.Errorf("tflite: model parse failed")
	}

	opts := C.TfLiteInterpreterOptionsCreate()
	if accel == infer.AccelXNNPack {
		C.TfLiteInterpreterOptionsSetNumThreads(opts, C.int32_t(runtime.NumCPU()))
	} else {
		C.TfLiteInterpreterOptionsSetNumThreads(opts, 1)
	}

	interp := C.TfLiteInterpreterCreate(m, opts)
	C.TfLiteInterpreterOptionsDelete(opts)
	if interp == nil {
		C.TfLiteModelDelete(m)
		C.free(buf)
		return nil, fmt.Errorf("tflite: interpreter create failed")
	}
	if C.TfLiteInterpreterAllocateTensors(interp) != C.kTfLiteOk {
		C.TfLiteInterpreterDelete(interp)
		C.TfLiteModelDelete(m)
		C.free(buf)
		return nil, fmt.Errorf("tflite: tensor allocation failed")
	}

	return &session{interp: interp, model: m, buf: buf}, nil
}

// session is one loaded interpreter. Invoke is serialized: TFLite
// interpreters are not safe for concurrent invocation.
type session struct {
	mu     sync.Mutex
	interp *C.TfLiteInterpreter
	model  *C.TfLiteModel
	buf    unsafe.Pointer
}

func (s *session) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interp == nil {
		return nil, fmt.Errorf("tflite: session closed")
	}

	in := C.TfLiteInterpreterGetInputTensor(s.interp, 0)
	want := int(C.TfLiteTensorByteSize(in)) / 4
	if want != len(input) {
		return nil, fmt.Errorf("tflite: input length %d, tensor expects %d", len(input), want)
	}
	status := C.TfLiteTensorCopyFromBuffer(in,
		unsafe.Pointer(&input[0]), C.size_t(len(input)*4))
	if status != C.kTfLiteOk {
		return nil, fmt.Errorf("tflite: input copy failed")
	}

	if C.TfLiteInterpreterInvoke(s.interp) != C.kTfLiteOk {
		return nil, fmt.Errorf("tflite: invoke failed")
	}

	out := C.TfLiteInterpreterGetOutputTensor(s.interp, 0)
	n := int(C.TfLiteTensorByteSize(out)) / 4
	result := make([]float32, n)
	status = C.TfLiteTensorCopyToBuffer(out,
		unsafe.Pointer(&result[0]), C.size_t(n*4))
	if status != C.kTfLiteOk {
		return nil, fmt.Errorf("tflite: output copy failed")
	}
	return result, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interp == nil {
		return nil
	}
	C.TfLiteInterpreterDelete(s.interp)
	C.TfLiteModelDelete(s.model)
	C.free(s.buf)
	s.interp = nil
	s.model = nil
	s.buf = nil
	return nil
}
