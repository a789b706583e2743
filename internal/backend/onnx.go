package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXRuntime creates ONNX Runtime sessions. The shared library is loaded
// and the environment initialised once, on first use.
type ONNXRuntime struct {
	libraryPath string
	logger      *zap.Logger

	initOnce sync.Once
	initErr  error
}

// NewONNXRuntime returns a runtime that loads libraryPath, or searches
// ONNXRUNTIME_ROOT and LD_LIBRARY_PATH when libraryPath is empty.
func NewONNXRuntime(libraryPath string, logger *zap.Logger) *ONNXRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ONNXRuntime{libraryPath: libraryPath, logger: logger}
}

func (r *ONNXRuntime) init() error {
	r.initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		lib := r.libraryPath
		if lib == "" {
			lib = findLibrary()
		}
		if lib != "" {
			r.logger.Info("Using ONNX Runtime library", zap.String("path", lib))
			ort.SetSharedLibraryPath(lib)
		}
		r.initErr = ort.InitializeEnvironment()
	})
	return r.initErr
}

// Shutdown releases the ONNX Runtime environment. Sessions must be closed
// first.
func (r *ONNXRuntime) Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func findLibrary() string {
	name := libraryName()
	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		platform := runtime.GOOS + "-" + runtime.GOARCH
		for _, dir := range []string{filepath.Join(root, platform, "lib"), filepath.Join(root, "lib")} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return filepath.Join(dir, name)
			}
		}
	}
	for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return filepath.Join(dir, name)
		}
	}
	return ""
}

func libraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// CreateSession loads modelPath. When CUDA is requested but the provider
// cannot be appended the session falls back to CPU.
func (r *ONNXRuntime) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	if err := r.init(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}
	cfg := applyOptions(opts...)

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model io info %s: %w", modelPath, err)
	}
	inputInfo, inputNames := convertInfo(inputs)
	outputInfo, outputNames := convertInfo(outputs)

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("set thread count: %w", err)
		}
	}
	if cfg.UseCUDA {
		r.appendCUDA(sessionOpts, modelPath)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("create onnx session %s: %w", modelPath, err)
	}

	return &onnxSession{
		session:     session,
		sessionOpts: sessionOpts,
		inputInfo:   inputInfo,
		outputInfo:  outputInfo,
	}, nil
}

func (r *ONNXRuntime) appendCUDA(sessionOpts *ort.SessionOptions, modelPath string) {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		r.logger.Warn("CUDA provider unavailable, using CPU", zap.String("model", modelPath), zap.Error(err))
		return
	}
	defer cudaOpts.Destroy()
	if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		r.logger.Warn("Failed to enable CUDA provider, using CPU", zap.String("model", modelPath), zap.Error(err))
	}
}

func convertInfo(infos []ort.InputOutputInfo) ([]TensorInfo, []string) {
	out := make([]TensorInfo, len(infos))
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
		out[i] = TensorInfo{
			Name:     info.Name,
			Shape:    append([]int64(nil), info.Dimensions...),
			DataType: onnxDataType(info.DataType),
		}
	}
	return out, names
}

func onnxDataType(dt ort.TensorElementDataType) DataType {
	switch dt {
	case ort.TensorElementDataTypeFloat:
		return DataTypeFloat32
	case ort.TensorElementDataTypeInt64:
		return DataTypeInt64
	case ort.TensorElementDataTypeInt32:
		return DataTypeInt32
	case ort.TensorElementDataTypeBool:
		return DataTypeBool
	default:
		return DataTypeUnknown
	}
}

type onnxSession struct {
	mu          sync.RWMutex
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputInfo   []TensorInfo
	outputInfo  []TensorInfo
}

func (s *onnxSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	ortInputs := make([]ort.Value, len(s.inputInfo))
	defer destroyAll(ortInputs)
	for i, info := range s.inputInfo {
		in, ok := Find(inputs, info.Name)
		if !ok {
			return nil, fmt.Errorf("missing input %s", info.Name)
		}
		v, err := createOrtTensor(in)
		if err != nil {
			return nil, fmt.Errorf("create input tensor %s: %w", in.Name, err)
		}
		ortInputs[i] = v
	}

	return runOutputs(s.session.Run, ortInputs, s.outputInfo)
}

// runOutputs runs the session and copies its outputs into Go tensors. nil
// outputs are allocated by the runtime; whatever it allocated is destroyed
// on return, also when run fails part way.
func runOutputs(run func(inputs, outputs []ort.Value) error, ortInputs []ort.Value, infos []TensorInfo) ([]NamedTensor, error) {
	ortOutputs := make([]ort.Value, len(infos))
	defer destroyAll(ortOutputs)
	if err := run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("run onnx session: %w", err)
	}

	outputs := make([]NamedTensor, len(ortOutputs))
	for i, v := range ortOutputs {
		if v == nil {
			continue
		}
		out, err := extractOrtTensor(v, infos[i].Name)
		if err != nil {
			return nil, fmt.Errorf("extract output %s: %w", infos[i].Name, err)
		}
		outputs[i] = out
	}
	return outputs, nil
}

func (s *onnxSession) InputInfo() []TensorInfo  { return s.inputInfo }
func (s *onnxSession) OutputInfo() []TensorInfo { return s.outputInfo }

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.sessionOpts != nil {
		if derr := s.sessionOpts.Destroy(); err == nil {
			err = derr
		}
		s.sessionOpts = nil
	}
	return err
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// createOrtTensor wraps the tensor's Go slice without copying. ORT needs a
// valid data pointer even for zero-element tensors such as an empty cache.
func createOrtTensor(t NamedTensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch data := t.Data.(type) {
	case []float32:
		if len(data) == 0 {
			data = make([]float32, 1)
		}
		return ort.NewTensor(shape, data)
	case []int64:
		if len(data) == 0 {
			data = make([]int64, 1)
		}
		return ort.NewTensor(shape, data)
	case []int32:
		wide := make([]int64, max(len(data), 1))
		for i, v := range data {
			wide[i] = int64(v)
		}
		return ort.NewTensor(shape, wide)
	case []bool:
		if len(data) == 0 {
			data = make([]bool, 1)
		}
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("unsupported data type %T", data)
	}
}

// extractOrtTensor copies an ORT-owned output into Go memory.
func extractOrtTensor(v ort.Value, name string) (NamedTensor, error) {
	shape := append([]int64(nil), v.GetShape()...)
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]float32(nil), t.GetData()...)}, nil
	case *ort.Tensor[int64]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]int64(nil), t.GetData()...)}, nil
	case *ort.Tensor[int32]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]int32(nil), t.GetData()...)}, nil
	default:
		return NamedTensor{}, fmt.Errorf("unsupported tensor type %T", v)
	}
}
