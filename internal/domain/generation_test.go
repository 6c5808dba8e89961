package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func TestDataURIRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 64; i++ {
		data := make([]byte, rng.Intn(4096))
		rng.Read(data)
		uri := DataURI("image/jpeg", data)
		if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
			t.Fatalf("unexpected prefix: %q", uri[:min(len(uri), 32)])
		}
		contentType, decoded, err := DecodeDataURI(uri)
		if err != nil {
			t.Fatalf("DecodeDataURI error: %v", err)
		}
		if contentType != "image/jpeg" {
			t.Fatalf("content type = %q, want image/jpeg", contentType)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("round trip mismatch for %d bytes", len(data))
		}
	}
}

func TestDataURIFallbackContentType(t *testing.T) {
	uri := DataURI("  ", []byte{0x01})
	if !strings.HasPrefix(uri, "data:application/octet-stream;base64,") {
		t.Fatalf("unexpected uri: %s", uri)
	}
}

func TestDecodeDataURIRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "http://example.com/a.png", "data:image/png,abc", "data:image/png;base64"} {
		if _, _, err := DecodeDataURI(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestBuildProviderInputDefaults(t *testing.T) {
	req := NewGenerationRequest()
	req.Image = []byte{0x89, 'P', 'N', 'G'}
	req.ContentType = "image/png"

	in := BuildProviderInput(req)
	if !strings.HasPrefix(in.FaceImage, "data:image/png;base64,") {
		t.Fatalf("face_image = %q", in.FaceImage)
	}
	if in.Prompt != DefaultPrompt || in.NegativePrompt != DefaultNegativePrompt {
		t.Fatalf("prompts not defaulted: %+v", in)
	}
	if in.IPAdapterScale != 0.8 || in.IdentityNetStrengthRatio != 0.8 {
		t.Fatalf("strengths = %v/%v, want 0.8/0.8", in.IPAdapterScale, in.IdentityNetStrengthRatio)
	}
	if in.ControlNetConditioningScale != 0.8 || in.NumInferenceSteps != 30 || in.GuidanceScale != 5 {
		t.Fatalf("fixed settings mismatch: %+v", in)
	}

	m := in.Map()
	if len(m) != 8 {
		t.Fatalf("map has %d keys, want 8", len(m))
	}
	if m["ip_adapter_scale"] != req.StyleStrength || m["identity_net_strength_ratio"] != req.IdentityStrength {
		t.Fatalf("strength mapping mismatch: %v", m)
	}
}

func TestBuildProviderInputPassesStrengthsUnclamped(t *testing.T) {
	req := NewGenerationRequest()
	req.Image = []byte("x")
	req.StyleStrength = 3.5
	req.IdentityStrength = -1

	in := BuildProviderInput(req)
	if in.IPAdapterScale != 3.5 || in.IdentityNetStrengthRatio != -1 {
		t.Fatalf("strengths altered: %+v", in)
	}
	if again := BuildProviderInput(req); again != in {
		t.Fatalf("payload not deterministic")
	}
}

func TestValidateRequiresImage(t *testing.T) {
	req := NewGenerationRequest()
	err := req.Validate()
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) || !uploadErr.Invalid || !errors.Is(err, ErrMissingFile) {
		t.Fatalf("Validate() = %v, want missing file upload error", err)
	}

	req.Image = []byte{}
	if err := req.Validate(); err != nil {
		t.Fatalf("empty upload rejected: %v", err)
	}

	req.Image = []byte{0}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestProviderErrorKeepsMessage(t *testing.T) {
	cause := errors.New("Prediction failed: CUDA out of memory")
	pe := NewProviderError(cause, false)
	if pe.Error() != cause.Error() {
		t.Fatalf("Error() = %q, want %q", pe.Error(), cause.Error())
	}
	if pe.Retryable() {
		t.Fatalf("plain failure marked retryable")
	}
	wrapped := fmt.Errorf("call: %w", context.DeadlineExceeded)
	if !NewProviderError(wrapped, false).Retryable() {
		t.Fatalf("deadline not retryable")
	}
	if !IsRetryable(NewProviderError(cause, true)) {
		t.Fatalf("hint ignored")
	}
	if IsRetryable(&ConfigurationError{Err: ErrMissingCredential}) {
		t.Fatalf("configuration error marked retryable")
	}
	if !IsRetryable(fmt.Errorf("wait: %w", ErrCapacityExhausted)) {
		t.Fatalf("capacity error not retryable")
	}
}
