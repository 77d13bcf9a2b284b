package qubx

type (
	// Patch is a processing capability applied in place to one
	// interleaved buffer. Master streams invoke it synchronously on
	// every callback against the mixed block.
	Patch interface {
		Process(buf []float64) error
	}

	// StreamPatch maps an input buffer to an output buffer. Duplex
	// streams invoke it synchronously on every callback; the returned
	// buffer must have the same length as the input.
	StreamPatch interface {
		ProcessStream(in []float64) ([]float64, error)
	}

	// BlockPatch maps a caller-defined data block to an output block.
	// Dsp processes carry one per dispatched job; the patch must be a
	// pure function of its input so the block can be partitioned across
	// workers.
	BlockPatch interface {
		ProcessBlock(in []float64) ([]float64, error)
	}
)

// PatchFunc adapts a function to the Patch interface.
type PatchFunc func(buf []float64) error

// Process calls fn.
func (fn PatchFunc) Process(buf []float64) error { return fn(buf) }

// StreamPatchFunc adapts a function to the StreamPatch interface.
type StreamPatchFunc func(in []float64) ([]float64, error)

// ProcessStream calls fn.
func (fn StreamPatchFunc) ProcessStream(in []float64) ([]float64, error) { return fn(in) }

// BlockPatchFunc adapts a function to the BlockPatch interface.
type BlockPatchFunc func(in []float64) ([]float64, error)

// ProcessBlock calls fn.
func (fn BlockPatchFunc) ProcessBlock(in []float64) ([]float64, error) { return fn(in) }
