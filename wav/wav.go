// Package wav persists interleaved data blocks as wav files. It is the
// file boundary of the runtime: blocks go out to disk and come back as
// plain []float64, ready to dispatch.
package wav

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// bit depth of exported files.
const bitDepth = 16

const pcmFormat = 1

// ErrNotValid is returned when the decoded file is not a valid wav.
var ErrNotValid = errors.New("not a valid wav file")

// Export writes an interleaved block to path. Samples are expected in
// [-1, 1]; values outside are clipped.
func Export(path string, block []float64, sampleRate, numChannels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	e := wav.NewEncoder(f, sampleRate, bitDepth, numChannels, pcmFormat)

	ib := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(block)),
		SourceBitDepth: bitDepth,
	}
	const scale = 1 << (bitDepth - 1)
	for i, s := range block {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int(s * (scale - 1))
		ib.Data[i] = v
	}
	if err := e.Write(ib); err != nil {
		_ = e.Close()
		_ = f.Close()
		return err
	}
	if err := e.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load reads a wav file back as an interleaved block in [-1, 1], returning
// the block with its sample rate and channel count.
func Load(path string) ([]float64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%s: %w", path, ErrNotValid)
	}
	ib, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, err
	}
	depth := int(decoder.BitDepth)
	if depth == 0 {
		depth = bitDepth
	}
	scale := float64(int(1)<<(depth-1)) - 1
	block := make([]float64, len(ib.Data))
	for i, v := range ib.Data {
		block[i] = float64(v) / scale
	}
	return block, int(decoder.SampleRate), ib.Format.NumChannels, nil
}
