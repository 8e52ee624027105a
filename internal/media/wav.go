package media

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// Canonical audio parameters every provider receives.
const (
	TargetSampleRate    = 16000
	TargetChannels      = 1
	TargetBitsPerSample = 16
)

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
)

var errNotWAV = errors.New("not a RIFF/WAVE file")

// Format describes the audio stream of a WAV file.
type Format struct {
	PCM           bool
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Canonical reports whether f is mono 16-bit PCM at 16 kHz.
func (f Format) Canonical() bool {
	return f.PCM &&
		f.SampleRate == TargetSampleRate &&
		f.Channels == TargetChannels &&
		f.BitsPerSample == TargetBitsPerSample
}

func (f Format) String() string {
	kind := "non-pcm"
	if f.PCM {
		kind = "pcm"
	}
	return fmt.Sprintf("%s %d Hz %d ch %d bit", kind, f.SampleRate, f.Channels, f.BitsPerSample)
}

// ProbeWAV reads the RIFF headers of path and returns its "fmt " chunk.
func ProbeWAV(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return Format{}, err
	}
	defer file.Close()
	return readWAVFormat(file)
}

func readWAVFormat(r io.ReadSeeker) (Format, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Format{}, fmt.Errorf("%w: %v", errNotWAV, err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 {
		return Format{}, errNotWAV
	}

	format := Format{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
	}
	switch dec.WavAudioFormat {
	case wavFormatPCM:
		format.PCM = true
	case wavFormatExtensible:
		// 16-bit extensible audio is always integer PCM.
		format.PCM = format.BitsPerSample == TargetBitsPerSample
	}
	return format, nil
}
