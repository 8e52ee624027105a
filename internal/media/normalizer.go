// Package media converts uploaded recordings to the canonical audio format
// accepted by every transcription provider: mono 16-bit PCM WAV at 16 kHz.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/rs/zerolog"
)

// maxStderr bounds how much ffmpeg output is kept for error details.
const maxStderr = 2048

// Normalizer shells out to ffmpeg to produce canonical audio.
type Normalizer struct {
	ffmpegPath string
	tempDir    string
	log        zerolog.Logger
}

// NewNormalizer creates a Normalizer. Empty ffmpegPath resolves "ffmpeg" on
// PATH; empty tempDir uses os.TempDir.
func NewNormalizer(ffmpegPath, tempDir string, log zerolog.Logger) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Normalizer{
		ffmpegPath: ffmpegPath,
		tempDir:    tempDir,
		log:        log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize converts sourcePath and returns the path of the canonical WAV.
// A source already in the canonical format is returned unchanged. The
// caller owns the returned file when it differs from sourcePath.
func (n *Normalizer) Normalize(ctx context.Context, sourcePath string) (string, error) {
	logCtx := n.log.With().Str("source", sourcePath).Logger()

	if _, err := os.Stat(sourcePath); err != nil {
		return "", &rferrors.MediaConversionError{Source: sourcePath, Detail: "source not readable", Cause: err}
	}

	if format, err := ProbeWAV(sourcePath); err == nil && format.Canonical() {
		logCtx.Debug().Str("format", format.String()).Msg("Source already canonical, skipping conversion.")
		return sourcePath, nil
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	out, err := os.CreateTemp(n.tempDir, base+"-*_16k_mono.wav")
	if err != nil {
		return "", &rferrors.MediaConversionError{Source: sourcePath, Detail: "could not create output file", Cause: err}
	}
	outPath := out.Name()
	_ = out.Close()

	// ffmpeg -y -i input -vn -ac 1 -ar 16000 -acodec pcm_s16le -f wav output
	cmd := exec.CommandContext(ctx, n.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", sourcePath,
		"-vn",
		"-ac", strconv.Itoa(TargetChannels),
		"-ar", strconv.Itoa(TargetSampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logCtx.Info().Str("output", outPath).Msg("Converting media with ffmpeg.")
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		detail := tail(stderr.String(), maxStderr)
		if detail == "" {
			detail = err.Error()
		}
		logCtx.Error().Err(err).Str("stderr", detail).Msg("ffmpeg conversion failed.")
		return "", &rferrors.MediaConversionError{Source: sourcePath, Detail: detail, Cause: err}
	}

	// --- Verify the output rather than trusting the exit code ---
	format, err := ProbeWAV(outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return "", &rferrors.MediaConversionError{Source: sourcePath, Detail: "output is not a readable WAV file", Cause: err}
	}
	if !format.Canonical() {
		_ = os.Remove(outPath)
		return "", &rferrors.MediaConversionError{
			Source: sourcePath,
			Detail: fmt.Sprintf("unexpected output format: %s", format),
		}
	}

	logCtx.Info().Str("output", outPath).Msg("Media normalized.")
	return outPath, nil
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
