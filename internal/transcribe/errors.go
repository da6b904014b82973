package transcribe

import "fmt"

// NotReadyError is returned when transcription is requested before the
// engine binary and model have been installed. Retryable once the install
// completes; a failed install leaves it permanent for the process.
type NotReadyError struct{}

func (e *NotReadyError) Error() string {
	return "transcription engine not ready"
}

// ConversionError wraps a failed media normalization. Output holds the
// converter's combined output for diagnostics.
type ConversionError struct {
	Err    error
	Output string
}

func (e *ConversionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("audio conversion failed: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("audio conversion failed: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// InferenceError wraps a failed engine invocation on an already-normalized
// file. Stderr holds the tail of the engine's error stream.
type InferenceError struct {
	Err    error
	Stderr string
}

func (e *InferenceError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("inference failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
