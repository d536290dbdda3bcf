//go:build onnx

package engine

// NativeAvailable reports that the ONNX engine is compiled in.
func NativeAvailable() bool { return true }

// NewNativeEngine loads the ONNX classifier at modelPath.
func NewNativeEngine(modelPath string) (Engine, error) {
	return NewOnnxEngine(modelPath)
}
