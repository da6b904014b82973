package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Engine installation. The binary and model live at a fixed location,
	// installed once per process before any transcription is serviced.
	EngineDir  string `env:"ENGINE_DIR" envDefault:"./engine"`
	BinaryName string `env:"ENGINE_BINARY" envDefault:"whisper-cli"`
	BinaryURL  string `env:"ENGINE_BINARY_URL" envDefault:"https://github.com/ggerganov/whisper.cpp/releases/latest/download/whisper-cli"`
	ModelName  string `env:"ENGINE_MODEL" envDefault:"ggml-medium.en.bin"`
	ModelURL   string `env:"ENGINE_MODEL_URL" envDefault:"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.en.bin"`

	// Inference. Language is fixed per process; there is no auto-detection.
	Language         string        `env:"LANGUAGE" envDefault:"en"`
	Threads          int           `env:"ENGINE_THREADS" envDefault:"4"`
	InstallTimeout   time.Duration `env:"INSTALL_TIMEOUT" envDefault:"30m"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"10m"`

	ScratchDir     string `env:"SCRATCH_DIR" envDefault:""`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"536870912"` // 512 MiB

	// Optional drop-folder ingest: media files appearing here are transcribed
	// and a sidecar transcript is written next to them. Empty disables it.
	WatchDir string `env:"WATCH_DIR"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	EngineDir  string
	ScratchDir string
	WatchDir   string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.EngineDir != "" {
		cfg.EngineDir = overrides.EngineDir
	}
	if overrides.ScratchDir != "" {
		cfg.ScratchDir = overrides.ScratchDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}

	return cfg, nil
}
