// Package media converts arbitrary input audio/video into the canonical
// format the inference engine requires: mono, 16 kHz, 16-bit PCM WAV.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

const (
	targetSampleRate = 16000
	targetChannels   = 1
	targetBitDepth   = 16
)

// Normalizer converts input media files via ffmpeg. Files already in the
// target WAV format are moved into place without re-encoding.
type Normalizer struct {
	log zerolog.Logger
}

// New creates a Normalizer.
func New(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log.With().Str("component", "media").Logger()}
}

// CheckFFmpeg reports whether ffmpeg is available in PATH. Call once at
// startup so a missing binary is logged before the first request fails.
func CheckFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Normalize converts src into a new canonical WAV file next to it and returns
// the new path. Conversion is attempted exactly once. On success src is
// deleted: ownership of the audio transfers to the returned file. On failure
// src is left in place for diagnostics and a *transcribe.ConversionError is
// returned; the caller's scoped cleanup still removes it at call end.
func (n *Normalizer) Normalize(ctx context.Context, src string) (string, error) {
	dst := filepath.Join(filepath.Dir(src), fmt.Sprintf("norm-%d-%s.wav", time.Now().UnixMilli(), uuid.NewString()))

	if isCanonicalWav(src) {
		if err := os.Rename(src, dst); err != nil {
			return "", &transcribe.ConversionError{Err: fmt.Errorf("move wav: %w", err)}
		}
		n.log.Debug().Str("path", dst).Msg("input already canonical wav, moved without re-encoding")
		return dst, nil
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", src,
		"-ar", fmt.Sprintf("%d", targetSampleRate),
		"-ac", fmt.Sprintf("%d", targetChannels),
		"-acodec", "pcm_s16le",
		dst,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(dst)
		return "", &transcribe.ConversionError{Err: err, Output: tail(string(out), 512)}
	}

	if err := os.Remove(src); err != nil {
		n.log.Warn().Err(err).Str("path", src).Msg("failed to remove input file after conversion")
	}
	return dst, nil
}

// isCanonicalWav returns true when path is a valid WAV already at the target
// sample rate, channel count, and bit depth.
func isCanonicalWav(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return false
	}
	return dec.SampleRate == targetSampleRate &&
		dec.NumChans == targetChannels &&
		dec.BitDepth == targetBitDepth
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
