package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/events"
	"github.com/longj724/local-ai-transcription/internal/metrics"
)

// Pipeline stage names, used in logs, events, and metrics labels.
const (
	StageReceiving   = "receiving"
	StageNormalizing = "normalizing"
	StageInferring   = "inferring"
	StageAggregating = "aggregating"
)

// Engine is the speech-to-text capability the orchestrator drives. Implemented
// by the engine adapter; stubbed in tests.
type Engine interface {
	Ready() bool
	Transcribe(ctx context.Context, wavPath string, onProgress func(float64)) ([]Token, error)
}

// Normalizer converts arbitrary input media to canonical WAV.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

// Stats reports orchestrator lifetime counters.
type Stats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Orchestrator drives one raw media buffer through the full pipeline:
// receive → normalize → infer → aggregate. Each call owns a private scratch
// directory that is removed on every exit path.
type Orchestrator struct {
	engine      Engine
	norm        Normalizer
	bus         *events.Bus
	scratchRoot string
	log         zerolog.Logger

	completed atomic.Int64
	failed    atomic.Int64
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Engine      Engine
	Normalizer  Normalizer
	Bus         *events.Bus
	ScratchRoot string
	Log         zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		engine:      opts.Engine,
		norm:        opts.Normalizer,
		bus:         opts.Bus,
		scratchRoot: opts.ScratchRoot,
		log:         opts.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// Stats returns completed/failed counters since startup.
func (o *Orchestrator) Stats() Stats {
	return Stats{Completed: o.completed.Load(), Failed: o.failed.Load()}
}

// Transcribe runs the full pipeline on a raw media buffer. Progress fractions
// from the engine are published to the event bus as they arrive, while
// inference is still running. The per-call scratch directory is removed on
// success and on failure alike; removal errors are logged, never surfaced.
// Readiness is checked before any file is written, so a not-ready rejection
// creates no temporary files.
func (o *Orchestrator) Transcribe(ctx context.Context, raw []byte) (*Result, error) {
	if !o.engine.Ready() {
		return nil, &NotReadyError{}
	}

	callID := uuid.NewString()
	log := o.log.With().Str("call_id", callID).Logger()

	scratch := filepath.Join(o.scratchRoot, "call-"+callID)
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		o.failed.Add(1)
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn().Err(err).Str("dir", scratch).Msg("scratch cleanup failed")
		}
	}()

	// Receiving: persist the raw upload so ffmpeg can demux it.
	start := time.Now()
	rawPath := filepath.Join(scratch, fmt.Sprintf("upload-%d", time.Now().UnixMilli()))
	if err := os.WriteFile(rawPath, raw, 0o600); err != nil {
		return nil, o.fail(log, callID, StageReceiving, fmt.Errorf("write upload: %w", err))
	}
	o.observeStage(StageReceiving, start)

	// Normalizing.
	start = time.Now()
	wavPath, err := o.norm.Normalize(ctx, rawPath)
	if err != nil {
		return nil, o.fail(log, callID, StageNormalizing, err)
	}
	o.observeStage(StageNormalizing, start)

	// Inferring: forward each progress fraction immediately, in order.
	start = time.Now()
	tokens, err := o.engine.Transcribe(ctx, wavPath, func(frac float64) {
		o.bus.Publish(events.TypeProgress, events.ProgressPayload{
			CallID:   callID,
			Stage:    StageInferring,
			Fraction: frac,
		})
	})
	if err != nil {
		return nil, o.fail(log, callID, StageInferring, err)
	}
	o.observeStage(StageInferring, start)

	// Aggregating: pure function, cannot fail.
	start = time.Now()
	segments := Aggregate(log, tokens)
	result := &Result{Text: JoinText(segments), Segments: segments}
	o.observeStage(StageAggregating, start)

	o.completed.Add(1)
	metrics.TranscriptionsTotal.WithLabelValues("completed").Inc()
	o.bus.Publish(events.TypeCompleted, events.ResultPayload{CallID: callID})
	log.Info().Int("tokens", len(tokens)).Int("segments", len(segments)).Msg("transcription complete")
	return result, nil
}

func (o *Orchestrator) fail(log zerolog.Logger, callID, stage string, err error) error {
	o.failed.Add(1)
	metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()
	o.bus.Publish(events.TypeFailed, events.ResultPayload{CallID: callID, Stage: stage, Error: err.Error()})
	log.Warn().Err(err).Str("stage", stage).Msg("transcription failed")
	return fmt.Errorf("%s: %w", stage, err)
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	metrics.ObserveStage(stage, time.Since(start))
}
