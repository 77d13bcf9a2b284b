/*
Package qubx is a runtime for managing many independent, concurrently
running real-time audio pipelines: output-only master streams, full
input-processing-output duplex streams and queue-fed dsp processes that
can be bound to a stream and dispatched work independently of the audio
callback cadence.

The facade owns the registry of all streams and processes:

	q := qubx.New()
	defer q.CloseAll()

	params := qubx.StreamParameters{Chunk: 512, SampleRate: 48000, Channels: 2}
	master, err := q.CreateMaster("m1", params)
	if err != nil {
		// handle
	}
	master.Start(qubx.PatchFunc(func(buf []float64) error {
		for i := range buf {
			buf[i] *= 0.7
		}
		return nil
	}))

A dsp process is bound by name to a stream and fed data blocks with a
patch; completed buffers are published to the stream in submission order,
even when the parallelization policy fans a block out across the shared
worker pool:

	process, err := q.CreateDspProcess("p1", true)
	if err != nil {
		// handle
	}
	if err := q.Bind("p1", "m1"); err != nil {
		// handle
	}
	err = process.Dispatch(block, qubx.BlockPatchFunc(func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		for i := range in {
			out[i] = in[i] * 2
		}
		return out, nil
	}))

Real device I/O is wired through the portaudio subpackage; without it the
runtime runs against paced null bindings.
*/
package qubx
