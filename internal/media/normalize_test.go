package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

// writeWav writes a short PCM WAV file with the given format.
func writeWav(t *testing.T, path string, sampleRate, channels, bitDepth int) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   make([]int, 160*channels),
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNormalize_CanonicalWavPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.wav")
	writeWav(t, src, 16000, 1, 16)

	dst, err := New(zerolog.Nop()).Normalize(context.Background(), src)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if !strings.HasSuffix(dst, ".wav") {
		t.Errorf("expected .wav output, got %q", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("expected source file to be moved away")
	}
	if !isCanonicalWav(dst) {
		t.Error("moved file should still be canonical")
	}
}

func TestNormalize_GarbageInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.mp3")
	if err := os.WriteFile(src, []byte("not media at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(zerolog.Nop()).Normalize(context.Background(), src)

	var conv *transcribe.ConversionError
	if !errors.As(err, &conv) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if _, statErr := os.Stat(src); statErr != nil {
		t.Error("source file should be left in place on failure")
	}
}

func TestIsCanonicalWav(t *testing.T) {
	dir := t.TempDir()

	canonical := filepath.Join(dir, "canonical.wav")
	writeWav(t, canonical, 16000, 1, 16)
	if !isCanonicalWav(canonical) {
		t.Error("expected 16 kHz mono 16-bit wav to be canonical")
	}

	stereo := filepath.Join(dir, "stereo.wav")
	writeWav(t, stereo, 44100, 2, 16)
	if isCanonicalWav(stereo) {
		t.Error("44.1 kHz stereo wav must not be canonical")
	}

	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("RIFFnope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if isCanonicalWav(garbage) {
		t.Error("invalid file must not be canonical")
	}

	if isCanonicalWav(filepath.Join(dir, "missing.wav")) {
		t.Error("missing file must not be canonical")
	}
}
