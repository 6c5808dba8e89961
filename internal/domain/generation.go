package domain

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPrompt           = "a child in a stylized illustration style"
	DefaultNegativePrompt   = "(lowres, low quality, worst quality:1.2), (text:1.2), watermark, (frame:1.2), deformed, ugly, deformed eyes, blur, out of focus, blurring, textured skin, hairs, monochrome, grain, grainy, lo-fi, how old, realistic, shallow depth of field, glitch, corrupted, bad anatomy, extra legs, extra arms, extra fingers, poorly drawn hands, poorly drawn feet, disfigured, out of frame, tiling, bad art, deformed, mutated, blurry, fuzzy, misshaped, mutant, gross, disgusting, ugly"
	DefaultStyleStrength    = 0.8
	DefaultIdentityStrength = 0.8

	// Fixed sampler settings sent with every generation.
	ControlNetConditioningScale = 0.8
	NumInferenceSteps           = 30
	GuidanceScale               = 5
)

// DefaultModelVersion pins the InstantID model on Replicate.
const DefaultModelVersion = "zsxkib/instant-id:c98b2e7a196828d00955767813b81fc05c5c9b294c670c6d147d545fed4ceecf"

// GenerationRequest is the request-scoped input of a single generation.
// Image is nil when no file part was sent; a present but empty part is a
// non-nil empty slice and is forwarded as is.
type GenerationRequest struct {
	Image            []byte `validate:"required"`
	ContentType      string
	Filename         string
	Prompt           string
	NegativePrompt   string
	StyleStrength    float64
	IdentityStrength float64
}

// NewGenerationRequest returns a request carrying the documented defaults.
func NewGenerationRequest() GenerationRequest {
	return GenerationRequest{
		Prompt:           DefaultPrompt,
		NegativePrompt:   DefaultNegativePrompt,
		StyleStrength:    DefaultStyleStrength,
		IdentityStrength: DefaultIdentityStrength,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural requirements only. Strength values are passed
// through without clamping.
func (r GenerationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Image" {
			return &UploadError{Field: "file", Invalid: true, Err: ErrMissingFile}
		}
		return &UploadError{Invalid: true, Err: err}
	}
	return nil
}

// ProviderInput is the key/value payload sent to the model.
type ProviderInput struct {
	FaceImage                   string  `json:"face_image"`
	Prompt                      string  `json:"prompt"`
	NegativePrompt              string  `json:"negative_prompt"`
	IPAdapterScale              float64 `json:"ip_adapter_scale"`
	ControlNetConditioningScale float64 `json:"controlnet_conditioning_scale"`
	IdentityNetStrengthRatio    float64 `json:"identity_net_strength_ratio"`
	NumInferenceSteps           int     `json:"num_inference_steps"`
	GuidanceScale               float64 `json:"guidance_scale"`
}

// BuildProviderInput derives the model payload from req and the fixed sampler
// settings. It holds no state: equal requests give equal payloads.
func BuildProviderInput(req GenerationRequest) ProviderInput {
	return ProviderInput{
		FaceImage:                   DataURI(req.ContentType, req.Image),
		Prompt:                      req.Prompt,
		NegativePrompt:              req.NegativePrompt,
		IPAdapterScale:              req.StyleStrength,
		ControlNetConditioningScale: ControlNetConditioningScale,
		IdentityNetStrengthRatio:    req.IdentityStrength,
		NumInferenceSteps:           NumInferenceSteps,
		GuidanceScale:               GuidanceScale,
	}
}

// Map flattens the payload into the generic map shape the provider accepts.
func (p ProviderInput) Map() map[string]any {
	return map[string]any{
		"face_image":                    p.FaceImage,
		"prompt":                        p.Prompt,
		"negative_prompt":               p.NegativePrompt,
		"ip_adapter_scale":              p.IPAdapterScale,
		"controlnet_conditioning_scale": p.ControlNetConditioningScale,
		"identity_net_strength_ratio":   p.IdentityNetStrengthRatio,
		"num_inference_steps":           p.NumInferenceSteps,
		"guidance_scale":                p.GuidanceScale,
	}
}

// GenerationResult carries the provider output exactly as it was returned.
type GenerationResult struct {
	Output json.RawMessage
}
