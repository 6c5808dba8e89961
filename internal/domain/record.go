package domain

import (
	"encoding/json"
	"time"
)

// GenerationStatus is the final outcome of one generation attempt.
type GenerationStatus string

const (
	StatusSucceeded   GenerationStatus = "SUCCEEDED"
	StatusFailed      GenerationStatus = "FAILED"
	StatusConfigError GenerationStatus = "CONFIG_ERROR"
	StatusRejected    GenerationStatus = "REJECTED"
)

// Caller identifies who asked for a generation.
type Caller struct {
	RequestID string
	Country   string
}

// GenerationRecord is the audit entry written after each attempt. It carries
// the upload size but never the upload itself.
type GenerationRecord struct {
	RequestID        string
	Model            string
	Prompt           string
	NegativePrompt   string
	StyleStrength    float64
	IdentityStrength float64
	ContentType      string
	Filename         string
	ImageBytes       int
	Status           GenerationStatus
	Error            string
	Retryable        bool
	Output           json.RawMessage
	Country          string
	Duration         time.Duration
}
