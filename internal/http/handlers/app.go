package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"illustrator/internal/domain"
	"illustrator/internal/infra"
)

// Generator produces an illustration for a validated upload.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest, caller domain.Caller) (domain.GenerationResult, error)
}

type App struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Generator Generator
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, generator Generator) *App {
	return &App{Config: cfg, Logger: logger, Generator: generator}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, detail string) {
	a.json(w, code, map[string]string{"detail": detail})
}
