package imagegen

import (
	"context"
	"encoding/json"

	"illustrator/internal/domain"
)

// Provider runs a hosted model and returns its raw output.
type Provider interface {
	Run(ctx context.Context, identifier string, input map[string]any) (json.RawMessage, error)
}

// Journal stores one record per generation attempt.
type Journal interface {
	Record(ctx context.Context, rec domain.GenerationRecord) error
}

// NopJournal discards records.
type NopJournal struct{}

func (NopJournal) Record(context.Context, domain.GenerationRecord) error { return nil }

// temporary is implemented by provider errors that know whether they are
// worth resubmitting.
type temporary interface {
	Temporary() bool
}
