package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV writes a PCM WAV with a JUNK chunk before "fmt " and samples of silence.
func writeWAV(t *testing.T, path string, sampleRate, channels, bits, samples int) {
	t.Helper()

	blockAlign := channels * bits / 8
	data := make([]byte, samples*blockAlign)
	junk := make([]byte, 12)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(junk)+8+16+8+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("JUNK")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(junk)))
	buf.Write(junk)

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestProbeWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")
	writeWAV(t, path, 44100, 2, 16, 10)

	format, err := ProbeWAV(path)
	require.NoError(t, err)
	assert.Equal(t, Format{PCM: true, SampleRate: 44100, Channels: 2, BitsPerSample: 16}, format)
	assert.False(t, format.Canonical())
}

func TestProbeWAV_EncodedCanonical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoded.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, TargetSampleRate, TargetBitsPerSample, TargetChannels, wavFormatPCM)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: TargetChannels, SampleRate: TargetSampleRate},
		Data:           make([]int, 1600),
		SourceBitDepth: TargetBitsPerSample,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	format, err := ProbeWAV(path)
	require.NoError(t, err)
	assert.True(t, format.Canonical(), format.String())
}

func TestProbeWAV_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := ProbeWAV(path)
	assert.ErrorIs(t, err, errNotWAV)
}

func TestProbeWAV_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("\x00\x00\x00\x18ftypmp42 not audio"), 0o600))

	_, err := ProbeWAV(path)
	assert.ErrorIs(t, err, errNotWAV)
}

func TestNormalize_CanonicalSourceFastPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canonical.wav")
	writeWAV(t, path, TargetSampleRate, TargetChannels, TargetBitsPerSample, 160)

	// A bogus ffmpeg path proves the converter is never invoked.
	n := NewNormalizer(filepath.Join(dir, "no-such-ffmpeg"), dir, zerolog.Nop())

	out, err := n.Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, out)
}

func TestNormalize_MissingSource(t *testing.T) {
	n := NewNormalizer("", t.TempDir(), zerolog.Nop())

	_, err := n.Normalize(context.Background(), filepath.Join(t.TempDir(), "absent.mp4"))
	assert.True(t, rferrors.IsMediaConversion(err))
}

func TestNormalize_ConverterUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stereo.wav")
	writeWAV(t, path, 44100, 2, 16, 100)

	n := NewNormalizer(filepath.Join(dir, "no-such-ffmpeg"), dir, zerolog.Nop())

	_, err := n.Normalize(context.Background(), path)
	require.Error(t, err)
	assert.True(t, rferrors.IsMediaConversion(err))

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*_16k_mono.wav"))
	assert.Empty(t, leftovers)
}

func TestNormalize_UnsupportedInput(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.mp4")
	require.NoError(t, os.WriteFile(path, []byte("this is not media"), 0o600))

	_, err := NewNormalizer("", dir, zerolog.Nop()).Normalize(context.Background(), path)
	assert.True(t, rferrors.IsMediaConversion(err))
}

func TestNormalize_ConvertsToCanonical(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "stereo.wav")
	writeWAV(t, path, 44100, 2, 16, 44100)

	out, err := NewNormalizer("", dir, zerolog.Nop()).Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.NotEqual(t, path, out)

	format, err := ProbeWAV(out)
	require.NoError(t, err)
	assert.Equal(t, TargetSampleRate, format.SampleRate)
	assert.Equal(t, TargetChannels, format.Channels)
	assert.True(t, format.Canonical())
}
