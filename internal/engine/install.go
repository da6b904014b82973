package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// asset is one file the engine needs on disk before it can run.
type asset struct {
	name string
	url  string
	path string
	mode os.FileMode
}

// Install ensures the engine binary and model asset are present in the
// configured directory, downloading whichever is missing. It runs once per
// process, before any transcription is serviced; on success the readiness
// flag flips to true and stays true. On failure readiness stays false for the
// rest of the process and the error is returned for logging; there is no
// automatic retry. Download progress is relayed to onProgress as a fraction
// in [0,1] across all files being fetched.
func (e *Engine) Install(ctx context.Context, onProgress func(float64)) error {
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create engine dir: %w", err)
	}

	assets := []asset{
		{name: e.opts.BinaryName, url: e.opts.BinaryURL, path: e.binaryPath(), mode: 0o755},
		{name: e.opts.ModelName, url: e.opts.ModelURL, path: e.modelPath(), mode: 0o644},
	}

	var missing []asset
	for _, a := range assets {
		if info, err := os.Stat(a.path); err == nil && info.Size() > 0 {
			e.log.Debug().Str("asset", a.name).Msg("already installed")
			continue
		}
		missing = append(missing, a)
	}

	for i, a := range missing {
		start := time.Now()
		e.log.Info().Str("asset", a.name).Str("url", a.url).Msg("downloading engine asset")
		if err := e.download(ctx, a, i, len(missing), onProgress); err != nil {
			return fmt.Errorf("install %s: %w", a.name, err)
		}
		e.log.Info().Str("asset", a.name).Dur("took", time.Since(start)).Msg("engine asset installed")
	}

	e.ready.Store(true)
	e.log.Info().Str("model", e.opts.ModelName).Str("language", e.opts.Language).Msg("engine ready")
	return nil
}

func (e *Engine) download(ctx context.Context, a asset, fileNo, totalFiles int, onProgress func(float64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	// Write to a temp file first, then rename, so a partial download never
	// satisfies the already-installed check.
	tmpPath := a.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, a.mode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	pw := &progressWriter{
		w:          f,
		total:      resp.ContentLength,
		fileNo:     fileNo,
		totalFiles: totalFiles,
		report:     onProgress,
	}
	_, err = io.Copy(pw, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write asset: %w", err)
	}

	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move asset into place: %w", err)
	}
	return nil
}

// progressWriter reports download completion as a fraction of all files in
// this install, assuming earlier files finished before this one started.
type progressWriter struct {
	w          io.Writer
	total      int64
	written    int64
	fileNo     int
	totalFiles int
	report     func(float64)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)

	if pw.report != nil && pw.total > 0 {
		frac := float64(pw.written) / float64(pw.total)
		if pw.totalFiles > 1 {
			frac = (float64(pw.fileNo) + frac) / float64(pw.totalFiles)
		}
		pw.report(frac)
	}
	return n, err
}
