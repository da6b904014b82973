package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/events"
)

type stubEngine struct {
	ready     bool
	tokens    []Token
	err       error
	progress  []float64
	callCount int
}

func (s *stubEngine) Ready() bool { return s.ready }

func (s *stubEngine) Transcribe(ctx context.Context, wavPath string, onProgress func(float64)) ([]Token, error) {
	s.callCount++
	for _, p := range s.progress {
		onProgress(p)
	}
	return s.tokens, s.err
}

type stubNormalizer struct {
	err       error
	callCount int
}

func (s *stubNormalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	s.callCount++
	if s.err != nil {
		return "", s.err
	}
	// Behave like the real normalizer: consume the input, produce a wav.
	out := filepath.Join(filepath.Dir(inputPath), "normalized.wav")
	if err := os.Rename(inputPath, out); err != nil {
		return "", err
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, eng Engine, norm Normalizer, bus *events.Bus) *Orchestrator {
	t.Helper()
	return NewOrchestrator(OrchestratorOptions{
		Engine:      eng,
		Normalizer:  norm,
		Bus:         bus,
		ScratchRoot: t.TempDir(),
		Log:         zerolog.Nop(),
	})
}

func TestTranscribe_NotReady(t *testing.T) {
	root := t.TempDir()
	o := NewOrchestrator(OrchestratorOptions{
		Engine:      &stubEngine{ready: false},
		Normalizer:  &stubNormalizer{},
		Bus:         events.NewBus(16),
		ScratchRoot: root,
		Log:         zerolog.Nop(),
	})

	_, err := o.Transcribe(context.Background(), []byte("media"))

	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}

	// Rejection happens before any file is written.
	entries, readErr := os.ReadDir(root)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("expected no scratch files, found %d entries", len(entries))
	}
}

func TestTranscribe_ConversionFailure(t *testing.T) {
	eng := &stubEngine{ready: true}
	norm := &stubNormalizer{err: &ConversionError{Err: errors.New("unknown codec")}}
	root := t.TempDir()
	o := NewOrchestrator(OrchestratorOptions{
		Engine:      eng,
		Normalizer:  norm,
		Bus:         events.NewBus(16),
		ScratchRoot: root,
		Log:         zerolog.Nop(),
	})

	_, err := o.Transcribe(context.Background(), []byte("not really audio"))

	var conv *ConversionError
	if !errors.As(err, &conv) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if eng.callCount != 0 {
		t.Error("inference must not run after a conversion failure")
	}

	// The scratch dir, including the raw upload, is gone.
	entries, readErr := os.ReadDir(root)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("expected scratch cleanup, found %d entries", len(entries))
	}
}

func TestTranscribe_Success(t *testing.T) {
	eng := &stubEngine{
		ready: true,
		tokens: []Token{
			{Text: "Hello", Start: "00:00:00,000", End: "00:00:00,500"},
			{Text: " world.", Start: "00:00:00,500", End: "00:00:01,000"},
		},
	}
	o := newTestOrchestrator(t, eng, &stubNormalizer{}, events.NewBus(16))

	result, err := o.Transcribe(context.Background(), []byte("media"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if result.Text != "Hello world." {
		t.Errorf("unexpected text %q", result.Text)
	}
	if len(result.Segments) != 1 {
		t.Errorf("expected 1 segment, got %d", len(result.Segments))
	}

	stats := o.Stats()
	if stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestTranscribe_ProgressOrdering(t *testing.T) {
	eng := &stubEngine{
		ready:    true,
		progress: []float64{0.1, 0.4, 0.9, 1.0},
		tokens:   []Token{{Text: "Done.", Start: "00:00:00,000", End: "00:00:01,000"}},
	}
	bus := events.NewBus(16)
	ch, cancel := bus.Subscribe(events.Filter{Types: []string{events.TypeProgress}})
	defer cancel()

	o := newTestOrchestrator(t, eng, &stubNormalizer{}, bus)
	if _, err := o.Transcribe(context.Background(), []byte("media")); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	want := []float64{0.1, 0.4, 0.9, 1.0}
	for i, expected := range want {
		select {
		case e := <-ch:
			var p events.ProgressPayload
			if err := json.Unmarshal(e.Data, &p); err != nil {
				t.Fatalf("event %d: %v", i, err)
			}
			if p.Fraction != expected {
				t.Errorf("event %d: fraction = %v, want %v", i, p.Fraction, expected)
			}
			if p.Stage != StageInferring {
				t.Errorf("event %d: stage = %q", i, p.Stage)
			}
		default:
			t.Fatalf("missing progress event %d", i)
		}
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected extra progress event %+v", e)
	default:
	}
}

func TestTranscribe_CleansUpOnSuccess(t *testing.T) {
	root := t.TempDir()
	eng := &stubEngine{ready: true, tokens: []Token{{Text: "Hi.", Start: "00:00:00,000", End: "00:00:00,500"}}}
	o := NewOrchestrator(OrchestratorOptions{
		Engine:      eng,
		Normalizer:  &stubNormalizer{},
		Bus:         events.NewBus(16),
		ScratchRoot: root,
		Log:         zerolog.Nop(),
	})

	if _, err := o.Transcribe(context.Background(), []byte("media")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned up: %d entries remain", len(entries))
	}
}
