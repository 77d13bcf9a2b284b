package qubx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubx-audio/qubx"
)

func TestStreamParametersValidate(t *testing.T) {
	tests := []struct {
		name   string
		params qubx.StreamParameters
		field  string
	}{
		{"defaults", qubx.DefaultStreamParameters(), ""},
		{"mono 8k", qubx.StreamParameters{Chunk: 256, SampleRate: 8000, Channels: 1}, ""},
		{"zero chunk", qubx.StreamParameters{Chunk: 0, SampleRate: 44100, Channels: 1}, "chunk"},
		{"negative sample rate", qubx.StreamParameters{Chunk: 256, SampleRate: -1, Channels: 1}, "sample_rate"},
		{"zero channels", qubx.StreamParameters{Chunk: 256, SampleRate: 44100, Channels: 0}, "channels"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.params.Validate()
			if test.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *qubx.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, test.field, cfgErr.Field)
		})
	}
}

func TestStreamParametersBufferLen(t *testing.T) {
	p := qubx.StreamParameters{Chunk: 512, SampleRate: 48000, Channels: 2}
	assert.Equal(t, 1024, p.BufferLen())
}

func TestStreamParametersDeadline(t *testing.T) {
	p := qubx.StreamParameters{Chunk: 480, SampleRate: 48000, Channels: 2}
	assert.Equal(t, 10*time.Millisecond, p.Deadline())
}
