package example

import (
	"time"

	"github.com/qubx-audio/qubx"
	"github.com/qubx-audio/qubx/dsp"
	"github.com/qubx-audio/qubx/portaudio"
)

// Example:
//		Create a master stream-out on the default output device
//		Attenuate everything it plays with a gain patch
func one() {
	q := qubx.New(qubx.WithDevices(portaudio.NewProvider()))
	defer func() { check(q.CloseAll()) }()

	master, err := q.CreateMaster("main-out", qubx.StreamParameters{
		Chunk:      512,
		SampleRate: 44100,
		Channels:   2,
	})
	check(err)

	process, err := q.CreateDspProcess("sine", false)
	check(err)
	check(q.Bind("sine", "main-out"))

	check(master.Start(dsp.Gain(0.5)))

	// feed one second of a 440 Hz tone at stream cadence
	tone := dsp.SineTable(440, 44100, 44100*2)
	buf := 512 * 2
	for lo := 0; lo+buf <= len(tone); lo += buf {
		check(process.Dispatch(tone[lo:lo+buf], nil))
		time.Sleep(512 * time.Second / 44100)
	}
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}
