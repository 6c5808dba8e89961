package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"illustrator/internal/domain"
	"illustrator/internal/infra"
)

const journalTimeout = 5 * time.Second

// Service relays generation requests to the configured provider.
type Service struct {
	cfg      *infra.Config
	provider Provider
	journal  Journal
	logger   zerolog.Logger
	slots    *semaphore.Weighted
	now      func() time.Time
}

// NewService wires the relay. A nil journal disables auditing.
func NewService(cfg *infra.Config, provider Provider, journal Journal, logger zerolog.Logger) *Service {
	if journal == nil {
		journal = NopJournal{}
	}
	slots := cfg.GenerationMaxConcurrent
	if slots <= 0 {
		slots = 1
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		journal:  journal,
		logger:   logger,
		slots:    semaphore.NewWeighted(slots),
		now:      time.Now,
	}
}

// Generate validates req, sends it to the pinned model and returns the model
// output unchanged. The call is bounded by the configured timeout and by the
// number of concurrent generations.
func (s *Service) Generate(ctx context.Context, req domain.GenerationRequest, caller domain.Caller) (domain.GenerationResult, error) {
	start := s.now()
	rec := domain.GenerationRecord{
		RequestID:        caller.RequestID,
		Country:          caller.Country,
		Model:            s.cfg.ReplicateModelVersion,
		Prompt:           req.Prompt,
		NegativePrompt:   req.NegativePrompt,
		StyleStrength:    req.StyleStrength,
		IdentityStrength: req.IdentityStrength,
		ContentType:      req.ContentType,
		Filename:         req.Filename,
		ImageBytes:       len(req.Image),
	}

	result, err := s.generate(ctx, req)
	rec.Duration = s.now().Sub(start)
	rec.Output = result.Output
	rec.Status = statusFor(err)
	if err != nil {
		rec.Error = err.Error()
		rec.Retryable = domain.IsRetryable(err)
	}
	s.record(ctx, rec)
	return result, err
}

func (s *Service) generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	if !s.cfg.HasReplicateToken() {
		return domain.GenerationResult{}, &domain.ConfigurationError{Err: domain.ErrMissingCredential}
	}
	if err := req.Validate(); err != nil {
		return domain.GenerationResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("%w: %v", domain.ErrCapacityExhausted, err)
	}
	defer s.slots.Release(1)

	input := domain.BuildProviderInput(req)
	output, err := s.provider.Run(ctx, s.cfg.ReplicateModelVersion, input.Map())
	if err != nil {
		var tmp temporary
		return domain.GenerationResult{}, domain.NewProviderError(err, errors.As(err, &tmp) && tmp.Temporary())
	}
	return domain.GenerationResult{Output: output}, nil
}

func (s *Service) record(ctx context.Context, rec domain.GenerationRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("request_id", rec.RequestID).Msg("imagegen: journal write failed")
	}
}

func statusFor(err error) domain.GenerationStatus {
	if err == nil {
		return domain.StatusSucceeded
	}
	var cfgErr *domain.ConfigurationError
	var uploadErr *domain.UploadError
	switch {
	case errors.As(err, &cfgErr):
		return domain.StatusConfigError
	case errors.As(err, &uploadErr):
		return domain.StatusRejected
	default:
		return domain.StatusFailed
	}
}
