package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"illustrator/internal/domain"
	"illustrator/internal/middleware"
)

type generateResponse struct {
	OutputURLs json.RawMessage `json:"output_urls"`
}

// Generate accepts a multipart upload and relays it to the illustration model.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	log := a.requestLogger(r)

	req, err := a.parseGenerateForm(r)
	if err != nil {
		a.fail(w, log, err)
		return
	}

	caller := domain.Caller{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Country:   middleware.CountryFromContext(r.Context()),
	}
	res, err := a.Generator.Generate(r.Context(), req, caller)
	if err != nil {
		a.fail(w, log, err)
		return
	}
	a.json(w, http.StatusOK, generateResponse{OutputURLs: res.Output})
}

func (a *App) parseGenerateForm(r *http.Request) (domain.GenerationRequest, error) {
	req := domain.NewGenerationRequest()

	if err := r.ParseMultipartForm(a.Config.UploadMemoryBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return req, &domain.UploadError{Field: "file", Invalid: true, Err: domain.ErrMissingFile}
		}
		return req, &domain.UploadError{Invalid: true, Err: fmt.Errorf("parse form: %w", err)}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, &domain.UploadError{Field: "file", Invalid: true, Err: domain.ErrMissingFile}
		}
		return req, &domain.UploadError{Field: "file", Err: fmt.Errorf("open upload: %w", err)}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, &domain.UploadError{Field: "file", Err: fmt.Errorf("read upload: %w", err)}
	}
	if data == nil {
		data = []byte{}
	}
	req.Image = data
	req.Filename = header.Filename
	req.ContentType = header.Header.Get("Content-Type")

	if v, ok := formValue(r, "prompt"); ok {
		req.Prompt = v
	}
	if v, ok := formValue(r, "negative_prompt"); ok {
		req.NegativePrompt = v
	}
	if v, ok := formValue(r, "style_strength"); ok {
		if req.StyleStrength, err = parseStrength("style_strength", v); err != nil {
			return req, err
		}
	}
	if v, ok := formValue(r, "identity_strength"); ok {
		if req.IdentityStrength, err = parseStrength("identity_strength", v); err != nil {
			return req, err
		}
	}
	return req, nil
}

// formValue returns the first value of a multipart field. Empty values count
// as absent.
func formValue(r *http.Request, key string) (string, bool) {
	if r.MultipartForm == nil {
		return "", false
	}
	vs := r.MultipartForm.Value[key]
	if len(vs) == 0 || vs[0] == "" {
		return "", false
	}
	return vs[0], true
}

func parseStrength(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &domain.UploadError{Field: field, Invalid: true, Err: fmt.Errorf("%s: input should be a valid number", field)}
	}
	return v, nil
}

func (a *App) fail(w http.ResponseWriter, log *zerolog.Logger, err error) {
	code := statusForError(err)
	ev := log.Error()
	if code < http.StatusInternalServerError {
		ev = log.Warn()
	}
	ev.Err(err).
		Int("status", code).
		Bool("retryable", domain.IsRetryable(err)).
		Str("model", a.Config.ReplicateModelVersion).
		Msg("generate failed")
	a.error(w, code, err.Error())
}

func statusForError(err error) int {
	var cfgErr *domain.ConfigurationError
	var uploadErr *domain.UploadError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.As(err, &uploadErr):
		if uploadErr.Invalid {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrCapacityExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) requestLogger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
