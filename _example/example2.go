package example

import (
	"math"
	"time"

	"github.com/qubx-audio/qubx"
	"github.com/qubx-audio/qubx/portaudio"
)

func carrier(phase *float64, freq, sampleRate float64) float64 {
	s := math.Sin(*phase)
	*phase += 2 * math.Pi * freq / sampleRate
	return s
}

// Example:
//		Open a duplex stream on the default devices
//		Ring-modulate the microphone input before it reaches the speakers
func two() {
	q := qubx.New(qubx.WithDevices(portaudio.NewProvider()))
	defer func() { check(q.CloseAll()) }()

	duplex, err := q.CreateDuplex(qubx.StreamParameters{
		Chunk:      256,
		SampleRate: 48000,
		Channels:   1,
	})
	check(err)

	phase := 0.0
	check(duplex.Start(qubx.StreamPatchFunc(func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		for i := range in {
			out[i] = in[i] * carrier(&phase, 30, 48000)
		}
		return out, nil
	})))

	time.Sleep(10 * time.Second)
}
