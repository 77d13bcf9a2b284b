package example

import (
	"fmt"
	"time"

	"github.com/qubx-audio/qubx"
	"github.com/qubx-audio/qubx/dsp"
	"github.com/qubx-audio/qubx/wav"
)

// Example:
//		Load a .wav file
//		Push it through a parallel-enabled dsp process
//		Watch the load monitor while it plays
func three() {
	block, sampleRate, numChannels, err := wav.Load("_testdata/sample.wav")
	check(err)

	q := qubx.New()
	defer func() { check(q.CloseAll()) }()
	q.StartMonitoring()

	params := qubx.StreamParameters{
		Chunk:      1024,
		SampleRate: sampleRate,
		Channels:   numChannels,
	}
	master, err := q.CreateMaster("wav-out", params)
	check(err)
	process, err := q.CreateDspProcess("wav-gain", true)
	check(err)
	check(q.Bind("wav-gain", "wav-out"))
	check(master.Start(nil))

	buf := params.BufferLen()
	for lo := 0; lo+buf <= len(block); lo += buf {
		err = process.Dispatch(block[lo:lo+buf], dsp.Scale(0.8))
		if err != nil {
			// queue full, retry next period
			lo -= buf
		}
		time.Sleep(params.Deadline())
	}

	load := q.Load()
	fmt.Printf("processes=%d queue=%d cpu=%.1f%%\n",
		load.ActiveProcesses, load.QueueDepth, load.CPUPercent)
}
