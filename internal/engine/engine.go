package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrModelVersionMismatch indicates the model was built for a different
	// runtime contract.
	ErrModelVersionMismatch = errors.New("engine: model version mismatch")
	// ErrInvalidInputShape indicates the model input is not a
	// [1, slices, width] uint8 tensor.
	ErrInvalidInputShape = errors.New("engine: invalid input tensor shape")
	// ErrInvalidOutputShape indicates the model output does not carry one
	// score per category.
	ErrInvalidOutputShape = errors.New("engine: invalid output tensor shape")
	// ErrInference wraps a failed classifier invocation.
	ErrInference = errors.New("engine: inference failed")
	// ErrNativeUnavailable indicates the ONNX engine is not compiled in.
	ErrNativeUnavailable = errors.New("engine: onnx backend not available (build without -tags onnx)")
)

// DataType names a tensor element type.
type DataType string

const (
	DataTypeUint8   DataType = "uint8"
	DataTypeFloat32 DataType = "float32"
)

// ModelSpec describes what a loaded model consumes and produces.
type ModelSpec struct {
	Version    int64
	InputShape []int64
	InputType  DataType
	Categories int
}

// Requirements is what the feature window and label table expect of a model.
type Requirements struct {
	// Version is the model version the runtime supports; zero accepts any.
	Version    int64
	Slices     int
	SliceWidth int
	Categories int
}

// Engine classifies a full feature window.
type Engine interface {
	// Spec describes the loaded model.
	Spec() ModelSpec
	// Classify runs inference on a [1, slices, width] window and writes one
	// score in [0, 1] per category into scores.
	Classify(input []uint8, scores []float32) error
	// Close releases resources.
	Close() error
}

// CheckModel verifies a model against the runtime's requirements. A
// trailing channel dimension of 1 on the input is accepted.
func CheckModel(spec ModelSpec, req Requirements) error {
	if req.Version != 0 && spec.Version != req.Version {
		return fmt.Errorf("%w: model version %d, runtime supports %d", ErrModelVersionMismatch, spec.Version, req.Version)
	}

	shape := spec.InputShape
	if len(shape) == 4 && shape[3] == 1 {
		shape = shape[:3]
	}
	if len(shape) != 3 || shape[0] != 1 || shape[1] != int64(req.Slices) || shape[2] != int64(req.SliceWidth) {
		return fmt.Errorf("%w: got %v, want [1 %d %d]", ErrInvalidInputShape, spec.InputShape, req.Slices, req.SliceWidth)
	}
	if spec.InputType != DataTypeUint8 {
		return fmt.Errorf("%w: element type %s, want %s", ErrInvalidInputShape, spec.InputType, DataTypeUint8)
	}
	if spec.Categories != req.Categories {
		return fmt.Errorf("%w: model scores %d categories, %d labels configured", ErrInvalidOutputShape, spec.Categories, req.Categories)
	}
	return nil
}
