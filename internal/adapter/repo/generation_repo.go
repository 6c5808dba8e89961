package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"illustrator/internal/domain"
	"illustrator/internal/infra"
	"illustrator/internal/sqlinline"
)

// GenerationRepositoryPG writes the generation audit trail to PostgreSQL.
type GenerationRepositoryPG struct {
	sql   infra.SQLExecutor
	newID func() uuid.UUID
}

// NewGenerationRepository creates a repository on top of a marker-checked executor.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql, newID: uuid.New}
}

// EnsureSchema creates the generation_requests table when it is missing.
func (r *GenerationRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureGenerationRequests); err != nil {
		return fmt.Errorf("ensure generation_requests: %w", err)
	}
	return nil
}

// Record inserts one row per generation attempt.
func (r *GenerationRepositoryPG) Record(ctx context.Context, rec domain.GenerationRecord) error {
	var output []byte
	if len(rec.Output) > 0 {
		output = rec.Output
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertGenerationRequest,
		r.newID(),
		rec.RequestID,
		rec.Model,
		rec.Prompt,
		rec.NegativePrompt,
		rec.StyleStrength,
		rec.IdentityStrength,
		rec.ContentType,
		rec.Filename,
		rec.ImageBytes,
		string(rec.Status),
		rec.Error,
		rec.Retryable,
		output,
		rec.Country,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert generation_requests: %w", err)
	}
	return nil
}
