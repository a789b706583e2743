// Package backend runs ONNX graphs. Callers see only named tensors; the
// ONNX Runtime binding lives behind the Session interface so the decode loop
// can be exercised with in-memory sessions.
package backend

import "fmt"

// Session is a loaded graph that maps named input tensors to named output
// tensors. Run must be safe for concurrent use.
type Session interface {
	// Run executes the graph. Inputs are matched to graph inputs by name;
	// outputs come back in OutputInfo order.
	Run(inputs []NamedTensor) ([]NamedTensor, error)
	InputInfo() []TensorInfo
	OutputInfo() []TensorInfo
	Close() error
}

// NamedTensor associates a name with row-major tensor data.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  any // []float32, []int64, []int32 or []bool
}

// TensorInfo describes a graph input or output. Dynamic dimensions are -1.
type TensorInfo struct {
	Name     string
	Shape    []int64
	DataType DataType
}

type DataType string

const (
	DataTypeFloat32 DataType = "float32"
	DataTypeInt64   DataType = "int64"
	DataTypeInt32   DataType = "int32"
	DataTypeBool    DataType = "bool"
	DataTypeUnknown DataType = "unknown"
)

// Float32 returns the tensor data as []float32.
func (t NamedTensor) Float32() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor %s: want float32 data, got %T", t.Name, t.Data)
	}
	return data, nil
}

// NumElements is the product of the shape's dimensions.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Find returns the tensor called name.
func Find(tensors []NamedTensor, name string) (NamedTensor, bool) {
	for _, t := range tensors {
		if t.Name == name {
			return t, true
		}
	}
	return NamedTensor{}, false
}

// SessionOption configures session creation.
type SessionOption func(*SessionConfig)

type SessionConfig struct {
	// NumThreads is the intra-op thread count; 0 lets the runtime decide.
	NumThreads int
	UseCUDA    bool
}

func WithThreads(n int) SessionOption {
	return func(c *SessionConfig) { c.NumThreads = n }
}

func WithCUDA(enabled bool) SessionOption {
	return func(c *SessionConfig) { c.UseCUDA = enabled }
}

func applyOptions(opts ...SessionOption) SessionConfig {
	var cfg SessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SessionFactory creates sessions from model files.
type SessionFactory interface {
	CreateSession(modelPath string, opts ...SessionOption) (Session, error)
}
