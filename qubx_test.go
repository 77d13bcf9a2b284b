package qubx_test

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/qubx-audio/qubx"
	"github.com/qubx-audio/qubx/mock"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func validParams() qubx.StreamParameters {
	return qubx.StreamParameters{Chunk: 512, SampleRate: 48000, Channels: 2}
}

func TestCreateMasterValidatesParams(t *testing.T) {
	tests := []struct {
		name   string
		params qubx.StreamParameters
	}{
		{"zero chunk", qubx.StreamParameters{Chunk: 0, SampleRate: 48000, Channels: 2}},
		{"negative chunk", qubx.StreamParameters{Chunk: -1, SampleRate: 48000, Channels: 2}},
		{"zero sample rate", qubx.StreamParameters{Chunk: 512, SampleRate: 0, Channels: 2}},
		{"zero channels", qubx.StreamParameters{Chunk: 512, SampleRate: 48000, Channels: 0}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q := qubx.New(qubx.WithLogger(quiet()))
			defer func() { require.NoError(t, q.CloseAll()) }()

			_, err := q.CreateMaster("m1", test.params)
			var cfgErr *qubx.ConfigError
			require.ErrorAs(t, err, &cfgErr)

			// nothing was registered: the name is still free
			_, err = q.CreateMaster("m1", validParams())
			assert.NoError(t, err)
		})
	}
}

func TestCreateDuplexValidatesParams(t *testing.T) {
	q := qubx.New(qubx.WithLogger(quiet()))
	defer func() { require.NoError(t, q.CloseAll()) }()

	_, err := q.CreateDuplex(qubx.StreamParameters{Chunk: 512, SampleRate: -8000, Channels: 1})
	var cfgErr *qubx.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNameConflict(t *testing.T) {
	q := qubx.New(qubx.WithLogger(quiet()))
	defer func() { require.NoError(t, q.CloseAll()) }()

	_, err := q.CreateMaster("m1", validParams())
	require.NoError(t, err)
	_, err = q.CreateMaster("m1", validParams())
	assert.ErrorIs(t, err, qubx.ErrNameConflict)

	// names are unique across kinds as well
	_, err = q.CreateDspProcess("m1", false)
	assert.ErrorIs(t, err, qubx.ErrNameConflict)

	_, err = q.CreateDspProcess("p1", false)
	require.NoError(t, err)
	_, err = q.CreateDspProcess("p1", true)
	assert.ErrorIs(t, err, qubx.ErrNameConflict)
}

func TestBindUnknownNames(t *testing.T) {
	q := qubx.New(qubx.WithLogger(quiet()))
	defer func() { require.NoError(t, q.CloseAll()) }()

	_, err := q.CreateMaster("m1", validParams())
	require.NoError(t, err)
	p, err := q.CreateDspProcess("p1", false)
	require.NoError(t, err)

	assert.ErrorIs(t, q.Bind("nope", "m1"), qubx.ErrUnknownTarget)
	assert.ErrorIs(t, q.Bind("p1", "nope"), qubx.ErrUnknownTarget)
	// a stream is not a process and a process is not a stream
	assert.ErrorIs(t, q.Bind("m1", "m1"), qubx.ErrUnknownTarget)
	assert.ErrorIs(t, q.Bind("p1", "p1"), qubx.ErrUnknownTarget)

	// dispatching while unbound fails without enqueuing
	err = p.Dispatch([]float64{1, 2}, nil)
	assert.ErrorIs(t, err, qubx.ErrUnknownTarget)
	assert.Zero(t, p.QueueDepth())
}

func TestEndToEndDoublingThroughMaster(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := mock.NewGatedWriter()
	provider := &mock.Provider{}
	provider.AddWriter(w)
	q := qubx.New(qubx.WithLogger(quiet()), qubx.WithDevices(provider))
	defer func() { require.NoError(t, q.CloseAll()) }()

	params := validParams()
	m, err := q.CreateMaster("m1", params)
	require.NoError(t, err)
	p, err := q.CreateDspProcess("p1", false)
	require.NoError(t, err)
	require.NoError(t, q.Bind("p1", "m1"))
	require.NoError(t, m.Start(nil))

	block := make([]float64, 4096)
	for i := range block {
		block[i] = float64(i + 1)
	}
	require.NoError(t, p.Dispatch(block, qubx.BlockPatchFunc(func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		for i := range in {
			out[i] = in[i] * 2
		}
		return out, nil
	})))

	// tick callbacks until every processed frame has been written; early
	// callbacks may be silent underruns while the job is still in flight
	want := 4096 / params.BufferLen()
	var processed [][]float64
	for tick := 0; tick < 100 && len(processed) < want; tick++ {
		w.Tick()
		require.Eventually(t, func() bool {
			return len(w.Buffers()) >= tick+1
		}, time.Second, time.Millisecond)
		processed = nonSilent(w.Buffers())
	}
	require.Len(t, processed, want)

	flat := make([]float64, 0, len(block))
	for _, f := range processed {
		flat = append(flat, f...)
	}
	require.Len(t, flat, len(block))
	for i := range block {
		assert.Equal(t, block[i]*2, flat[i])
	}
}

func nonSilent(buffers [][]float64) [][]float64 {
	out := make([][]float64, 0, len(buffers))
	for _, b := range buffers {
		for _, v := range b {
			if v != 0 {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func TestCloseAllIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := qubx.New(qubx.WithLogger(quiet()))
	_, err := q.CreateMaster("m1", validParams())
	require.NoError(t, err)
	_, err = q.CreateDspProcess("p1", true)
	require.NoError(t, err)
	require.NoError(t, q.Bind("p1", "m1"))
	q.StartMonitoring()

	assert.NoError(t, q.CloseAll())
	assert.NoError(t, q.CloseAll())

	// the registry is cleared and refuses new work
	_, err = q.CreateMaster("m2", validParams())
	assert.ErrorIs(t, err, qubx.ErrClosed)
}

func TestStartMonitoringOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := qubx.New(qubx.WithLogger(quiet()), qubx.WithMonitorPeriod(time.Millisecond))
	defer func() { require.NoError(t, q.CloseAll()) }()

	q.StartMonitoring()
	q.StartMonitoring()

	require.Eventually(t, func() bool {
		return !q.Load().SampledAt.IsZero()
	}, time.Second, time.Millisecond)
}

func TestCloseAllReportsShutdownTimeout(t *testing.T) {
	q := qubx.New(qubx.WithLogger(quiet()), qubx.WithCloseTimeout(20*time.Millisecond))

	_, err := q.CreateMaster("m1", validParams())
	require.NoError(t, err)
	p, err := q.CreateDspProcess("p1", false)
	require.NoError(t, err)
	require.NoError(t, q.Bind("p1", "m1"))

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Dispatch([]float64{1}, qubx.BlockPatchFunc(func(in []float64) ([]float64, error) {
		<-release
		return in, nil
	})))

	err = q.CloseAll()
	assert.ErrorIs(t, err, qubx.ErrShutdownTimeout)
}
