package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, binary, model []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/whisper-cli":
			w.Write(binary)
		case "/model.bin":
			w.Write(model)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, srvURL string) *Engine {
	t.Helper()
	return New(Options{
		Dir:        t.TempDir(),
		BinaryName: "whisper-cli",
		BinaryURL:  srvURL + "/whisper-cli",
		ModelName:  "model.bin",
		ModelURL:   srvURL + "/model.bin",
		Language:   "en",
		Log:        zerolog.Nop(),
	})
}

func TestInstall(t *testing.T) {
	srv := newTestServer(t, []byte("fake binary"), []byte("fake model weights"), nil)
	e := newTestEngine(t, srv.URL)

	if e.Ready() {
		t.Fatal("engine must not be ready before install")
	}

	var progress []float64
	err := e.Install(context.Background(), func(f float64) {
		progress = append(progress, f)
	})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if !e.Ready() {
		t.Error("engine should be ready after install")
	}
	for _, name := range []string{"whisper-cli", "model.bin"} {
		info, err := os.Stat(filepath.Join(e.opts.Dir, name))
		if err != nil {
			t.Errorf("%s not installed: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}

	if len(progress) == 0 {
		t.Fatal("expected progress reports during download")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v after %v", progress[i], progress[i-1])
		}
	}
	if last := progress[len(progress)-1]; last != 1.0 {
		t.Errorf("final progress = %v, want 1.0", last)
	}
}

func TestInstall_BinaryIsExecutable(t *testing.T) {
	srv := newTestServer(t, []byte("#!/bin/sh\n"), []byte("weights"), nil)
	e := newTestEngine(t, srv.URL)

	if err := e.Install(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(e.binaryPath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0o111 == 0 {
		t.Errorf("binary mode %v lacks execute bit", info.Mode())
	}
}

func TestInstall_SkipsExistingAssets(t *testing.T) {
	var hits atomic.Int64
	srv := newTestServer(t, []byte("binary"), []byte("model"), &hits)
	e := newTestEngine(t, srv.URL)

	if err := e.Install(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	first := hits.Load()
	if first != 2 {
		t.Fatalf("expected 2 downloads, got %d", first)
	}

	if err := e.Install(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != first {
		t.Errorf("second install re-downloaded assets (%d hits)", hits.Load())
	}
}

func TestInstall_FailureLeavesNotReady(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	e := newTestEngine(t, srv.URL)

	err := e.Install(context.Background(), nil)
	if err == nil {
		t.Fatal("expected install failure")
	}
	if e.Ready() {
		t.Error("failed install must leave readiness false")
	}

	// No partial temp files left behind.
	entries, readErr := os.ReadDir(e.opts.Dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == ".tmp" {
			t.Errorf("partial download left behind: %s", ent.Name())
		}
	}
}
