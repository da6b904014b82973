// Package watch ingests media dropped into a local directory: each new file
// is transcribed and a sidecar transcript is written next to it.
package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

const sidecarSuffix = ".transcript.json"

// mediaExts are the input extensions the watcher picks up. Anything else
// (including our own sidecar output) is ignored.
var mediaExts = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".opus": true,
	".flac": true, ".aac": true, ".mp4": true, ".webm": true, ".mkv": true,
	".mov": true,
}

// Service runs the transcription pipeline for a media buffer.
type Service interface {
	Transcribe(ctx context.Context, raw []byte) (*transcribe.Result, error)
}

// Watcher monitors a directory for new media files. Create and Write events
// for the same path are debounced so a file still being copied in is only
// processed once it has settled.
type Watcher struct {
	svc    Service
	dir    string
	settle time.Duration
	log    zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	processed atomic.Int64
	failed    atomic.Int64
	status    atomic.Value // string: "starting", "watching", "stopped"
}

// New creates a watcher over dir. settle is how long a file must be quiet
// before it is picked up; zero means a sensible default.
func New(svc Service, dir string, settle time.Duration, log zerolog.Logger) *Watcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	w := &Watcher{
		svc:            svc,
		dir:            dir,
		settle:         settle,
		log:            log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	w.status.Store("starting")
	return w
}

// Start begins watching. Files already present in the directory are not
// backfilled; the watcher only reacts to new arrivals.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)

	w.status.Store("watching")
	w.log.Info().Str("dir", w.dir).Msg("drop-folder watcher started")
	return nil
}

// Stop halts the watcher and waits for in-flight processing to finish.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
	w.status.Store("stopped")
	w.log.Info().
		Int64("processed", w.processed.Load()).
		Int64("failed", w.failed.Load()).
		Msg("drop-folder watcher stopped")
}

// Status returns the watcher lifecycle state for the health endpoint.
func (w *Watcher) Status() string {
	s, _ := w.status.Load().(string)
	return s
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !wantsFile(ev.Name) {
				continue
			}
			w.debounce(ctx, ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// debounce resets the settle timer for path; the file is processed once no
// further events arrive within the settle window.
func (w *Watcher) debounce(ctx context.Context, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(w.settle, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.wg.Add(1)
		defer w.wg.Done()
		w.process(ctx, path)
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	log := w.log.With().Str("file", filepath.Base(path)).Logger()

	sidecar := sidecarPath(path)
	if _, err := os.Stat(sidecar); err == nil {
		log.Debug().Msg("transcript already exists, skipping")
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		w.failed.Add(1)
		log.Warn().Err(err).Msg("failed to read dropped file")
		return
	}

	result, err := w.svc.Transcribe(ctx, raw)
	if err != nil {
		w.failed.Add(1)
		log.Warn().Err(err).Msg("transcription failed")
		return
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		w.failed.Add(1)
		log.Warn().Err(err).Msg("failed to encode transcript")
		return
	}
	if err := os.WriteFile(sidecar, data, 0o644); err != nil {
		w.failed.Add(1)
		log.Warn().Err(err).Msg("failed to write transcript sidecar")
		return
	}

	w.processed.Add(1)
	log.Info().Int("segments", len(result.Segments)).Str("transcript", filepath.Base(sidecar)).Msg("transcript written")
}

func wantsFile(path string) bool {
	if strings.HasSuffix(path, sidecarSuffix) {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return mediaExts[strings.ToLower(filepath.Ext(path))]
}

func sidecarPath(media string) string {
	ext := filepath.Ext(media)
	return strings.TrimSuffix(media, ext) + sidecarSuffix
}
