//go:build !onnx

package engine

// NativeAvailable reports that no native engine is compiled in.
func NativeAvailable() bool { return false }

// NewNativeEngine returns an error when built without the onnx tag.
func NewNativeEngine(_ string) (Engine, error) {
	return nil, ErrNativeUnavailable
}
