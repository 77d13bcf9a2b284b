package qubx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/qubx-audio/qubx/monitor"
)

func zeroLoad() monitor.LoadSample { return monitor.LoadSample{} }

// newTestDsp returns a bound process and a closer the test must defer
// after any goleak verification, so shutdown happens before the leak scan.
func newTestDsp(t *testing.T, parallel bool, queueCap int) (*DspProcess, <-chan []float64, func()) {
	t.Helper()
	pool := newWorkerPool(4)
	d := newDspProcess("p1", parallel, queueCap, pool, zeroLoad, DefaultCloseTimeout, testLogger())
	frames, err := d.bind("m1", testParams())
	require.NoError(t, err)
	return d, frames, func() {
		_ = d.Close()
		pool.close()
	}
}

func doubler() BlockPatchFunc {
	return func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		for i := range in {
			out[i] = in[i] * 2
		}
		return out, nil
	}
}

func collectFrames(t *testing.T, frames <-chan []float64, n int) [][]float64 {
	t.Helper()
	out := make([][]float64, 0, n)
	for len(out) < n {
		select {
		case f := <-frames:
			out = append(out, f)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d frames", len(out), n)
		}
	}
	return out
}

func TestDispatchUnboundFailsWithoutEnqueue(t *testing.T) {
	pool := newWorkerPool(1)
	defer pool.close()
	d := newDspProcess("p1", false, 4, pool, zeroLoad, DefaultCloseTimeout, testLogger())

	err := d.Dispatch([]float64{1, 2, 3}, nil)
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Zero(t, d.QueueDepth())
	assert.NoError(t, d.Close())
}

func TestDispatchDoublesBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, frames, done := newTestDsp(t, false, 8)
	defer done()
	params := testParams()

	block := make([]float64, 4096)
	for i := range block {
		block[i] = float64(i + 1)
	}
	require.NoError(t, d.Dispatch(block, doubler()))

	// 4096 samples chop into 4 frames of chunk*channels
	got := collectFrames(t, frames, 4096/params.BufferLen())
	flat := make([]float64, 0, 4096)
	for _, f := range got {
		flat = append(flat, f...)
	}
	require.Len(t, flat, len(block))
	for i := range block {
		assert.Equal(t, block[i]*2, flat[i])
	}
}

func TestDispatchBackpressure(t *testing.T) {
	d, _, done := newTestDsp(t, false, 2)
	defer done()

	gate := make(chan struct{})
	blocking := BlockPatchFunc(func(in []float64) ([]float64, error) {
		<-gate
		return in, nil
	})

	// first job occupies the executor
	require.NoError(t, d.Dispatch([]float64{1}, blocking))
	require.Eventually(t, func() bool { return d.QueueDepth() == 0 }, time.Second, time.Millisecond)
	// fill the queue behind it
	require.NoError(t, d.Dispatch([]float64{2}, blocking))
	require.NoError(t, d.Dispatch([]float64{3}, blocking))
	require.Equal(t, 2, d.QueueDepth())

	err := d.Dispatch([]float64{4}, blocking)
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, 2, d.QueueDepth())

	close(gate)
}

func TestResultsPublishedInSubmissionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, frames, done := newTestDsp(t, true, 8)
	defer done()
	params := testParams()

	const jobs = 4
	gates := make([]chan struct{}, jobs)
	for i := range gates {
		gates[i] = make(chan struct{})
	}
	// the patch tags its output with the input's job index and completes
	// only when that job's gate is released
	tagged := BlockPatchFunc(func(in []float64) ([]float64, error) {
		idx := int(in[0])
		<-gates[idx]
		out := make([]float64, len(in))
		for i := range out {
			out[i] = in[0]
		}
		return out, nil
	})

	for i := 0; i < jobs; i++ {
		block := make([]float64, params.BufferLen())
		for j := range block {
			block[j] = float64(i)
		}
		require.NoError(t, d.Dispatch(block, tagged))
	}

	// complete jobs out of order
	for _, idx := range []int{1, 0, 3, 2} {
		close(gates[idx])
	}

	got := collectFrames(t, frames, jobs)
	for i, f := range got {
		assert.Equal(t, float64(i), f[0], "frame %d out of order", i)
	}
}

func TestFailedJobSkippedNotPublished(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, frames, done := newTestDsp(t, false, 8)
	defer done()
	params := testParams()

	failing := BlockPatchFunc(func(in []float64) ([]float64, error) {
		return nil, errors.New("bad buffer")
	})
	block := make([]float64, params.BufferLen())
	for i := range block {
		block[i] = 1
	}
	require.NoError(t, d.Dispatch(block, failing))
	require.NoError(t, d.Dispatch(block, doubler()))

	// only the second job's frame arrives; the failure advanced ordering
	got := collectFrames(t, frames, 1)
	assert.Equal(t, 2.0, got[0][0])
	require.Eventually(t, func() bool { return d.Stats().Failures == 1 }, time.Second, time.Millisecond)
}

func TestPanicInPatchIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, frames, done := newTestDsp(t, false, 8)
	defer done()
	params := testParams()

	panicking := BlockPatchFunc(func(in []float64) ([]float64, error) {
		panic("boom")
	})
	block := make([]float64, params.BufferLen())
	require.NoError(t, d.Dispatch(block, panicking))
	block2 := make([]float64, params.BufferLen())
	for i := range block2 {
		block2[i] = 3
	}
	require.NoError(t, d.Dispatch(block2, nil))

	got := collectFrames(t, frames, 1)
	assert.Equal(t, 3.0, got[0][0])
	assert.Equal(t, uint64(1), d.Stats().Failures)
}

func TestStandingPatchAppliedToBareData(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, frames, done := newTestDsp(t, false, 8)
	defer done()
	params := testParams()
	d.SetPatch(doubler())

	block := make([]float64, params.BufferLen())
	for i := range block {
		block[i] = 5
	}
	require.NoError(t, d.Dispatch(block, nil))

	got := collectFrames(t, frames, 1)
	assert.Equal(t, 10.0, got[0][0])
}

func TestFanOutConcatenatesPartitionsInOrder(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.close()
	d := newDspProcess("p1", true, 8, pool, zeroLoad, DefaultCloseTimeout, testLogger())
	_, err := d.bind("m1", testParams())
	require.NoError(t, err)
	defer d.Close()

	data := make([]float64, 1000)
	for i := range data {
		data[i] = float64(i)
	}
	out, err := d.fanOut(doubler(), data, 3)
	require.NoError(t, err)
	require.Len(t, out, len(data))
	for i := range data {
		assert.Equal(t, data[i]*2, out[i])
	}
}

func TestFanOutPartitionFailureFailsJob(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.close()
	d := newDspProcess("p1", true, 8, pool, zeroLoad, DefaultCloseTimeout, testLogger())
	_, err := d.bind("m1", testParams())
	require.NoError(t, err)
	defer d.Close()

	failing := BlockPatchFunc(func(in []float64) ([]float64, error) {
		if in[0] == 0 {
			return nil, errors.New("first partition fails")
		}
		return in, nil
	})
	data := make([]float64, 100)
	for i := range data {
		data[i] = float64(i)
	}
	_, err = d.fanOut(failing, data, 4)
	assert.Error(t, err)
}

func TestFanOutGraceDeadline(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.close()
	d := newDspProcess("p1", true, 8, pool, zeroLoad, DefaultCloseTimeout, testLogger())
	_, err := d.bind("m1", testParams())
	require.NoError(t, err)
	defer d.Close()
	d.grace = 10 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	stuck := BlockPatchFunc(func(in []float64) ([]float64, error) {
		<-release
		return in, nil
	})
	_, err = d.fanOut(stuck, make([]float64, 100), 2)
	assert.Error(t, err)
}

func TestBindTwiceFails(t *testing.T) {
	d, _, done := newTestDsp(t, false, 8)
	defer done()
	_, err := d.bind("m2", testParams())
	assert.ErrorIs(t, err, ErrNameConflict)
	assert.Equal(t, "m1", d.Target())
}

func TestDspCloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, _, done := newTestDsp(t, false, 8)
	defer done()
	first := d.Close()
	assert.NoError(t, first)
	assert.Equal(t, first, d.Close())
	assert.ErrorIs(t, d.Dispatch([]float64{1}, nil), ErrClosed)
}
