package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestNumElements(t *testing.T) {
	assert.Equal(t, int64(1*12*0*64), NumElements([]int64{1, 12, 0, 64}))
	assert.Equal(t, int64(3*448*448), NumElements([]int64{1, 3, 448, 448}))
	assert.Equal(t, int64(1), NumElements(nil))
}

func TestFindAndFloat32(t *testing.T) {
	tensors := []NamedTensor{
		{Name: "logits", Shape: []int64{1, 1, 2}, Data: []float32{0.1, 0.9}},
		{Name: "ids", Shape: []int64{1, 1}, Data: []int64{4}},
	}

	logits, ok := Find(tensors, "logits")
	require.True(t, ok)
	data, err := logits.Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.9}, data)

	ids, ok := Find(tensors, "ids")
	require.True(t, ok)
	_, err = ids.Float32()
	assert.Error(t, err)

	_, ok = Find(tensors, "missing")
	assert.False(t, ok)
}

func TestApplyOptions(t *testing.T) {
	cfg := applyOptions(WithThreads(4), WithCUDA(true))
	assert.Equal(t, SessionConfig{NumThreads: 4, UseCUDA: true}, cfg)
	assert.Equal(t, SessionConfig{}, applyOptions())
}

// trackedValue counts Destroy calls; every other method is unused.
type trackedValue struct {
	ort.Value
	destroyed *int
}

func (v trackedValue) Destroy() error {
	*v.destroyed++
	return nil
}

func TestRunOutputsDestroysOutputsOnFailure(t *testing.T) {
	destroyed := 0
	infos := []TensorInfo{{Name: "logits"}, {Name: "present.0.key"}, {Name: "present.0.value"}}
	run := func(_, outputs []ort.Value) error {
		outputs[0] = trackedValue{destroyed: &destroyed}
		outputs[1] = trackedValue{destroyed: &destroyed}
		return errors.New("out of memory")
	}

	out, err := runOutputs(run, nil, infos)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run onnx session")
	assert.Nil(t, out)
	assert.Equal(t, 2, destroyed)
}
