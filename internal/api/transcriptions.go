package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

// TranscribeService runs the full pipeline on a raw media buffer.
type TranscribeService interface {
	Transcribe(ctx context.Context, raw []byte) (*transcribe.Result, error)
}

// TranscriptionsHandler accepts media uploads and returns transcripts.
type TranscriptionsHandler struct {
	svc      TranscribeService
	maxBytes int64
}

func NewTranscriptionsHandler(svc TranscribeService, maxBytes int64) *TranscriptionsHandler {
	return &TranscriptionsHandler{svc: svc, maxBytes: maxBytes}
}

// Routes registers the transcription endpoint.
func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Create)
}

// Create handles POST /api/v1/transcriptions. The media blob arrives either
// as a multipart form (field "audio") or as the raw request body. Error
// mapping: engine not ready → 503, conversion failure → 422, inference
// failure → 502.
func (h *TranscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw, err := h.readMedia(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(raw) == 0 {
		WriteError(w, http.StatusBadRequest, "empty media upload")
		return
	}

	result, err := h.svc.Transcribe(r.Context(), raw)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

func (h *TranscriptionsHandler) readMedia(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxBytes)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, errors.New("invalid multipart form: " + err.Error())
		}
		defer r.MultipartForm.RemoveAll()

		file, _, err := r.FormFile("audio")
		if err != nil {
			return nil, errors.New(`multipart form is missing the "audio" file field`)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	return io.ReadAll(r.Body)
}

func (h *TranscriptionsHandler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)

	var notReady *transcribe.NotReadyError
	var conversion *transcribe.ConversionError
	var inference *transcribe.InferenceError

	switch {
	case errors.As(err, &notReady):
		WriteError(w, http.StatusServiceUnavailable, "transcription engine not ready, retry later")
	case errors.As(err, &conversion):
		log.Warn().Err(err).Msg("media conversion failed")
		WriteErrorDetail(w, http.StatusUnprocessableEntity, "unsupported or corrupt media", conversion.Output)
	case errors.As(err, &inference):
		log.Error().Err(err).Msg("inference failed")
		WriteErrorDetail(w, http.StatusBadGateway, "inference engine failed", inference.Stderr)
	default:
		log.Error().Err(err).Msg("transcription failed")
		WriteError(w, http.StatusInternalServerError, "transcription failed")
	}
}
