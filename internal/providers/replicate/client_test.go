package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	created  map[string]any
	path     string
	prefer   string
	polls    atomic.Int32
	canceled atomic.Int32
	// create answers the POST; poll answers the n-th GET (1-based).
	create func(w http.ResponseWriter)
	poll   func(w http.ResponseWriter, n int32)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer r8_test", r.Header.Get("Authorization"))
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions/p1/cancel":
		f.canceled.Add(1)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost:
		f.mu.Lock()
		f.path = r.URL.Path
		f.prefer = r.Header.Get("Prefer")
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.created))
		f.mu.Unlock()
		f.create(w)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
		f.poll(w, f.polls.Add(1))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) lastCreate() (path, prefer string, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path, f.prefer, f.created
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		APIToken:        "r8_test",
		BaseURL:         srv.URL + "/",
		PollInterval:    time.Millisecond,
		MaxPollInterval: 5 * time.Millisecond,
		WaitSeconds:     60,
	})
}

func TestRunVersionedModelFinishesInline(t *testing.T) {
	api := &fakeAPI{t: t, create: func(w http.ResponseWriter) {
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     "p1",
			"status": "succeeded",
			"output": []string{"https://replicate.delivery/a.png", "https://replicate.delivery/b.png"},
		})
	}}
	client := newTestClient(t, api)

	out, err := client.Run(context.Background(), "zsxkib/instant-id:abc123", map[string]any{"prompt": "hi", "num_inference_steps": 30})
	require.NoError(t, err)
	assert.JSONEq(t, `["https://replicate.delivery/a.png","https://replicate.delivery/b.png"]`, string(out))

	path, prefer, created := api.lastCreate()
	assert.Equal(t, "/v1/predictions", path)
	assert.Equal(t, "wait=60", prefer)
	assert.Equal(t, "abc123", created["version"])
	input := created["input"].(map[string]any)
	assert.Equal(t, "hi", input["prompt"])
	assert.EqualValues(t, 30, input["num_inference_steps"])
	assert.Zero(t, api.polls.Load())
}

func TestRunOfficialModelUsesModelEndpoint(t *testing.T) {
	api := &fakeAPI{t: t, create: func(w http.ResponseWriter) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "p1", "status": "succeeded", "output": "https://x/y.png"})
	}}
	client := newTestClient(t, api)

	out, err := client.Run(context.Background(), "black-forest-labs/flux-schnell", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, `"https://x/y.png"`, string(out))
	path, _, created := api.lastCreate()
	assert.Equal(t, "/v1/models/black-forest-labs/flux-schnell/predictions", path)
	_, hasVersion := created["version"]
	assert.False(t, hasVersion)
}

func TestRunPollsUntilTerminal(t *testing.T) {
	api := &fakeAPI{t: t,
		create: func(w http.ResponseWriter) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": "p1", "status": "starting"})
		},
		poll: func(w http.ResponseWriter, n int32) {
			if n < 3 {
				writeJSON(w, http.StatusOK, map[string]any{"id": "p1", "status": "processing"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "p1", "status": "succeeded", "output": []string{"https://x/1.png"}})
		},
	}
	client := newTestClient(t, api)

	out, err := client.Run(context.Background(), "owner/model:v1", map[string]any{})
	require.NoError(t, err)
	assert.JSONEq(t, `["https://x/1.png"]`, string(out))
	assert.EqualValues(t, 3, api.polls.Load())
}

func TestRunFailedPredictionIsNotRetried(t *testing.T) {
	api := &fakeAPI{t: t,
		create: func(w http.ResponseWriter) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": "p1", "status": "processing"})
		},
		poll: func(w http.ResponseWriter, n int32) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "p1", "status": "failed", "error": "No face detected in the image"})
		},
	}
	client := newTestClient(t, api)

	_, err := client.Run(context.Background(), "owner/model:v1", map[string]any{})
	var predErr *PredictionError
	require.ErrorAs(t, err, &predErr)
	assert.Equal(t, "No face detected in the image", err.Error())
	assert.Equal(t, StatusFailed, predErr.Status)
	assert.EqualValues(t, 1, api.polls.Load())
}

func TestRunSurfacesAPIErrorDetail(t *testing.T) {
	api := &fakeAPI{t: t, create: func(w http.ResponseWriter) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"title":  "Input validation failed",
			"detail": "- input.guidance_scale: Must be less than or equal to 50",
			"status": 422,
		})
	}}
	client := newTestClient(t, api)

	_, err := client.Run(context.Background(), "owner/model:v1", map[string]any{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "- input.guidance_scale: Must be less than or equal to 50", err.Error())
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.False(t, apiErr.Temporary())
}

func TestRunPlainTextServerError(t *testing.T) {
	api := &fakeAPI{t: t, create: func(w http.ResponseWriter) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}}
	client := newTestClient(t, api)

	_, err := client.Run(context.Background(), "owner/model:v1", map[string]any{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream unavailable", err.Error())
	assert.True(t, apiErr.Temporary())
}

func TestRunPollsThroughTemporaryStatusErrors(t *testing.T) {
	api := &fakeAPI{t: t,
		create: func(w http.ResponseWriter) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": "p1", "status": "starting"})
		},
		poll: func(w http.ResponseWriter, n int32) {
			if n == 1 {
				http.Error(w, "upstream hiccup", http.StatusBadGateway)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "p1", "status": "succeeded", "output": []string{"https://x/1.png"}})
		},
	}
	client := newTestClient(t, api)

	out, err := client.Run(context.Background(), "owner/model:v1", map[string]any{})
	require.NoError(t, err)
	assert.JSONEq(t, `["https://x/1.png"]`, string(out))
	assert.EqualValues(t, 2, api.polls.Load())
	assert.Zero(t, api.canceled.Load())
}

func TestRunCancelsPredictionAfterPermanentPollError(t *testing.T) {
	api := &fakeAPI{t: t,
		create: func(w http.ResponseWriter) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": "p1", "status": "starting"})
		},
		poll: func(w http.ResponseWriter, n int32) {
			writeJSON(w, http.StatusForbidden, map[string]any{"detail": "You do not have permission to view this prediction"})
		},
	}
	client := newTestClient(t, api)

	_, err := client.Run(context.Background(), "owner/model:v1", map[string]any{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.EqualValues(t, 1, api.polls.Load())
	assert.EqualValues(t, 1, api.canceled.Load())
}

func TestRunCancelsPredictionWhenContextEnds(t *testing.T) {
	api := &fakeAPI{t: t,
		create: func(w http.ResponseWriter) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": "p1", "status": "starting"})
		},
		poll: func(w http.ResponseWriter, n int32) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "p1", "status": "processing"})
		},
	}
	client := newTestClient(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Run(ctx, "owner/model:v1", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.EqualValues(t, 1, api.canceled.Load())
}

func TestRunWithoutToken(t *testing.T) {
	client := NewClient(Options{})
	assert.False(t, client.HasCredentials())
	_, err := client.Run(context.Background(), "owner/model:v1", nil)
	assert.ErrorIs(t, err, ErrMissingAPIToken)
}

func TestCreateTargetRejectsMalformedIdentifiers(t *testing.T) {
	client := NewClient(Options{APIToken: "x"})
	for _, id := range []string{"", "model", "owner/", "/model", "owner/model:", "a/b/c"} {
		_, _, err := client.createTarget(id, nil)
		assert.Error(t, err, id)
	}
}

func TestPredictionErrorMessage(t *testing.T) {
	cases := map[string]string{
		``:                 "",
		`null`:             "",
		`"boom"`:           "boom",
		`{"code":"E1001"}`: `{"code":"E1001"}`,
	}
	for raw, want := range cases {
		p := Prediction{Error: json.RawMessage(raw)}
		assert.Equal(t, want, p.ErrorMessage(), raw)
	}
	assert.Equal(t, "prediction p9 canceled", (&PredictionError{ID: "p9", Status: StatusCanceled}).Error())
}
