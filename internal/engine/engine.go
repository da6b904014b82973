// Package engine wraps the external whisper.cpp-style inference engine:
// one-time installation of the binary and model assets, and per-call
// invocation with token-level timestamps and relayed progress.
package engine

import (
	"bufio"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

// Options configures the engine adapter.
type Options struct {
	Dir              string // fixed on-disk location for binary + model
	BinaryName       string // e.g. "whisper-cli"
	BinaryURL        string
	ModelName        string // e.g. "ggml-medium.en.bin"
	ModelURL         string
	Language         string // fixed per process, e.g. "en"
	Threads          int
	InferenceTimeout time.Duration
	Log              zerolog.Logger
}

// Engine invokes the installed inference binary. The readiness flag starts
// false, is flipped to true by a successful Install, and never reverts within
// a process lifetime.
type Engine struct {
	opts  Options
	ready atomic.Bool
	log   zerolog.Logger
}

// New creates an engine adapter. The engine is not ready until Install
// completes successfully.
func New(opts Options) *Engine {
	return &Engine{
		opts: opts,
		log:  opts.Log.With().Str("component", "engine").Logger(),
	}
}

// Ready reports whether the engine binary and model are installed and usable.
func (e *Engine) Ready() bool { return e.ready.Load() }

// Model returns the configured model asset name.
func (e *Engine) Model() string { return e.opts.ModelName }

// Language returns the fixed language code used for inference.
func (e *Engine) Language() string { return e.opts.Language }

func (e *Engine) binaryPath() string { return filepath.Join(e.opts.Dir, e.opts.BinaryName) }
func (e *Engine) modelPath() string  { return filepath.Join(e.opts.Dir, e.opts.ModelName) }

// Transcribe runs inference on a normalized WAV file and returns the ordered
// token sequence. Each progress fraction the engine reports is relayed to
// onProgress in order, while inference is still running. Returns
// *transcribe.NotReadyError before installation and *transcribe.InferenceError
// when the engine itself fails. No retry.
func (e *Engine) Transcribe(ctx context.Context, wavPath string, onProgress func(float64)) ([]transcribe.Token, error) {
	if !e.ready.Load() {
		return nil, &transcribe.NotReadyError{}
	}

	if e.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.InferenceTimeout)
		defer cancel()
	}

	args := []string{
		"-m", e.modelPath(),
		"-f", wavPath,
		"-l", e.opts.Language,
		"-ml", "1", // one token per line, timestamps per token
		"-pp", // print progress
		"-np", // suppress banner/debug output
	}
	if e.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.opts.Threads))
	}

	cmd := exec.CommandContext(ctx, e.binaryPath(), args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &transcribe.InferenceError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &transcribe.InferenceError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &transcribe.InferenceError{Err: err}
	}

	var wg sync.WaitGroup
	var tokens []transcribe.Token
	errTail := newLineTail(8)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			if tok, ok := parseTokenLine(sc.Text()); ok {
				tokens = append(tokens, tok)
			}
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if frac, ok := parseProgressLine(line); ok {
				if onProgress != nil {
					onProgress(frac)
				}
				continue
			}
			errTail.add(line)
		}
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		return nil, &transcribe.InferenceError{Err: err, Stderr: errTail.join()}
	}

	e.log.Debug().Int("tokens", len(tokens)).Str("file", wavPath).Msg("inference complete")
	return tokens, nil
}

// lineTail keeps the last n lines of a stream for error reporting.
type lineTail struct {
	lines []string
	max   int
}

func newLineTail(max int) *lineTail {
	return &lineTail{max: max}
}

func (t *lineTail) add(line string) {
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[1:]
	}
}

func (t *lineTail) join() string {
	out := ""
	for i, l := range t.lines {
		if i > 0 {
			out += "; "
		}
		out += l
	}
	return out
}
