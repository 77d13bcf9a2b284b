package qubx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/qubx-audio/qubx/mock"
)

func TestDuplexSyncPatchTransformsInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	params := testParams()
	input := make([]float64, params.BufferLen())
	for i := range input {
		input[i] = float64(i % 16)
	}
	r := mock.NewGatedReader(input)
	w := mock.NewGatedWriter()
	s := newDuplexStream("d1", params, r, w, 8, DefaultCloseTimeout, testLogger())

	require.NoError(t, s.Start(StreamPatchFunc(func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		for i := range in {
			out[i] = in[i] * 0.5
		}
		return out, nil
	})))

	r.Tick()
	w.Tick()
	got := waitBuffers(t, w, 1)[0]
	for i := range input {
		assert.InDelta(t, input[i]*0.5, got[i], 1e-12)
	}

	require.NoError(t, s.Close())
}

func TestDuplexPatchLengthMismatchIsFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	params := testParams()
	r := mock.NewGatedReader(make([]float64, params.BufferLen()))
	w := mock.NewGatedWriter()
	s := newDuplexStream("d1", params, r, w, 8, DefaultCloseTimeout, testLogger())

	require.NoError(t, s.Start(StreamPatchFunc(func(in []float64) ([]float64, error) {
		return in[:1], nil
	})))

	r.Tick()
	w.Tick()
	got := waitBuffers(t, w, 1)[0]
	for _, v := range got {
		assert.Zero(t, v)
	}
	assert.GreaterOrEqual(t, s.Stats().PatchFailures, uint64(1))

	require.NoError(t, s.Close())
}

func TestDuplexBoundProcessPipelines(t *testing.T) {
	defer goleak.VerifyNone(t)

	params := testParams()
	inA := make([]float64, params.BufferLen())
	inB := make([]float64, params.BufferLen())
	for i := range inA {
		inA[i] = 1
		inB[i] = 2
	}
	r := mock.NewGatedReader(inA, inB)
	w := mock.NewGatedWriter()
	s := newDuplexStream("d1", params, r, w, 8, DefaultCloseTimeout, testLogger())

	d, frames, done := newTestDsp(t, false, 8)
	defer done()
	d.SetPatch(doubler())
	s.bindProcess(d, frames)

	require.NoError(t, s.Start(nil))

	// first callback: input A dispatched, nothing completed yet, silence out
	r.Tick()
	w.Tick()
	first := waitBuffers(t, w, 1)[0]
	for _, v := range first {
		assert.Zero(t, v)
	}

	// wait until A's result is queued before the second callback
	require.Eventually(t, func() bool { return len(frames) > 0 }, time.Second, time.Millisecond)

	r.Tick()
	w.Tick()
	second := waitBuffers(t, w, 2)[1]
	for _, v := range second {
		assert.InDelta(t, 2.0, v, 1e-12)
	}
	assert.GreaterOrEqual(t, s.Stats().Underruns, uint64(1))

	require.NoError(t, s.Close())
}

func TestDuplexPassthroughWithoutPatchOrBinding(t *testing.T) {
	defer goleak.VerifyNone(t)

	params := testParams()
	input := make([]float64, params.BufferLen())
	for i := range input {
		input[i] = float64(i)
	}
	r := mock.NewGatedReader(input)
	w := mock.NewGatedWriter()
	s := newDuplexStream("d1", params, r, w, 8, DefaultCloseTimeout, testLogger())

	require.NoError(t, s.Start(nil))
	r.Tick()
	w.Tick()
	got := waitBuffers(t, w, 1)[0]
	assert.Equal(t, input, got)

	require.NoError(t, s.Close())
}

func TestDuplexCloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	params := testParams()
	r := mock.NewGatedReader()
	w := mock.NewGatedWriter()
	s := newDuplexStream("d1", params, r, w, 8, DefaultCloseTimeout, testLogger())
	require.NoError(t, s.Start(nil))

	first := s.Close()
	assert.NoError(t, first)
	assert.Equal(t, first, s.Close())
	assert.ErrorIs(t, s.Start(nil), ErrClosed)
}
