//go:build onnx

package engine

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortInitOnce ensures ONNX Runtime environment is initialized exactly once.
// ortInitErr is kept so later NewOnnxEngine calls surface the failure.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initORT() error {
	ortInitOnce.Do(func() {
		libPath, err := defaultORTLocator().resolve()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// OnnxEngine runs a keyword classifier exported to ONNX. The model takes a
// single uint8 tensor of quantized features and yields one score per
// category, either as float32 probabilities or as uint8 quantized scores.
type OnnxEngine struct {
	session *ort.AdvancedSession

	input     *ort.Tensor[uint8]
	outFloat  *ort.Tensor[float32]
	outQuant  *ort.Tensor[uint8]
	spec      ModelSpec
	inputSize int
}

// NewOnnxEngine loads the model at path, inspects its signature and
// allocates reusable tensors. Signature checks against the runtime are left
// to CheckModel.
func NewOnnxEngine(path string) (*OnnxEngine, error) {
	if err := initORT(); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: inspect %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("%w: model has %d inputs and %d outputs, want 1 and 1", ErrInvalidInputShape, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]

	spec := ModelSpec{
		InputShape: batchOne(in.Dimensions),
		InputType:  dataType(in.DataType),
	}
	outShape := batchOne(out.Dimensions)
	if len(outShape) > 0 {
		spec.Categories = int(outShape[len(outShape)-1])
	}
	if meta, err := ort.GetModelMetadata(path); err == nil {
		if v, err := meta.GetVersion(); err == nil {
			spec.Version = v
		}
		meta.Destroy()
	}

	if spec.InputType != DataTypeUint8 {
		return nil, fmt.Errorf("%w: element type %s, want %s", ErrInvalidInputShape, spec.InputType, DataTypeUint8)
	}

	e := &OnnxEngine{spec: spec, inputSize: int(ort.NewShape(spec.InputShape...).FlattenedSize())}
	e.input, err = ort.NewEmptyTensor[uint8](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}

	var output ort.Value
	switch out.DataType {
	case ort.TensorElementDataTypeFloat:
		e.outFloat, err = ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
		output = e.outFloat
	case ort.TensorElementDataTypeUint8:
		e.outQuant, err = ort.NewEmptyTensor[uint8](ort.NewShape(outShape...))
		output = e.outQuant
	default:
		err = fmt.Errorf("%w: output element type %s", ErrInvalidOutputShape, dataType(out.DataType))
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(path,
		[]string{in.Name},
		[]string{out.Name},
		[]ort.Value{e.input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	return e, nil
}

// Spec implements Engine.
func (e *OnnxEngine) Spec() ModelSpec { return e.spec }

// Classify copies the window into the input tensor, runs the session and
// normalizes the scores to [0, 1].
func (e *OnnxEngine) Classify(input []uint8, scores []float32) error {
	if len(input) != e.inputSize {
		return fmt.Errorf("onnx: input holds %d values, want %d", len(input), e.inputSize)
	}
	if len(scores) != e.spec.Categories {
		return fmt.Errorf("onnx: score buffer holds %d values, want %d", len(scores), e.spec.Categories)
	}
	copy(e.input.GetData(), input)

	if err := e.session.Run(); err != nil {
		return fmt.Errorf("onnx: inference: %w", err)
	}

	if e.outFloat != nil {
		copy(scores, e.outFloat.GetData())
		return nil
	}
	for i, v := range e.outQuant.GetData()[:len(scores)] {
		scores[i] = float32(v) / 255
	}
	return nil
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (e *OnnxEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.outFloat != nil {
		e.outFloat.Destroy()
		e.outFloat = nil
	}
	if e.outQuant != nil {
		e.outQuant.Destroy()
		e.outQuant = nil
	}
	return nil
}

// batchOne pins a dynamic leading batch dimension to 1.
func batchOne(dims ort.Shape) []int64 {
	shape := append([]int64(nil), dims...)
	if len(shape) > 0 && shape[0] < 1 {
		shape[0] = 1
	}
	return shape
}

func dataType(t ort.TensorElementDataType) DataType {
	switch t {
	case ort.TensorElementDataTypeUint8:
		return DataTypeUint8
	case ort.TensorElementDataTypeFloat:
		return DataTypeFloat32
	default:
		return DataType(fmt.Sprintf("onnx-type-%d", int(t)))
	}
}
