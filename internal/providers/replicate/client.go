package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

var errNotFinished = errors.New("replicate: prediction not finished")

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusAborted    Status = "aborted"
)

// Terminal reports whether no further status change can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusAborted:
		return true
	}
	return false
}

// Options configures the Replicate client.
type Options struct {
	APIToken        string
	BaseURL         string
	HTTPClient      *http.Client
	Logger          *zerolog.Logger
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// WaitSeconds is sent as `Prefer: wait=N` so short predictions finish
	// inside the create call. Zero disables the header.
	WaitSeconds int
}

// Client talks to the Replicate predictions API.
type Client struct {
	apiToken        string
	baseURL         string
	httpClient      *http.Client
	logger          zerolog.Logger
	pollInterval    time.Duration
	maxPollInterval time.Duration
	waitSeconds     int
}

// Prediction mirrors the subset of the prediction object the relay uses.
type Prediction struct {
	ID      string          `json:"id"`
	Model   string          `json:"model,omitempty"`
	Version string          `json:"version,omitempty"`
	Status  Status          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Logs    string          `json:"logs,omitempty"`
	URLs    struct {
		Get    string `json:"get,omitempty"`
		Cancel string `json:"cancel,omitempty"`
	} `json:"urls"`
}

// ErrorMessage returns the prediction's error as text.
func (p *Prediction) ErrorMessage() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// APIError is a non-2xx answer from the API. Error returns the provider's
// detail text unchanged.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	default:
		return "replicate: http " + strconv.Itoa(e.StatusCode)
	}
}

// Temporary reports whether the failure is on the provider side or a
// throttle, as opposed to a rejected request.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// PredictionError reports a prediction that ended in a non-success state.
type PredictionError struct {
	ID      string
	Status  Status
	Message string
}

func (e *PredictionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("prediction %s %s", e.ID, e.Status)
}

// NewClient constructs a client with defaults filled in.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	maxPoll := opts.MaxPollInterval
	if maxPoll < poll {
		maxPoll = 10 * poll
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiToken:        strings.TrimSpace(opts.APIToken),
		baseURL:         baseURL,
		httpClient:      httpClient,
		logger:          logger,
		pollInterval:    poll,
		maxPollInterval: maxPoll,
		waitSeconds:     opts.WaitSeconds,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Run creates a prediction for identifier, waits for it to finish and returns
// its output as the provider sent it. identifier is `owner/model:version` or
// `owner/model` for official models.
func (c *Client) Run(ctx context.Context, identifier string, input map[string]any) (json.RawMessage, error) {
	pred, err := c.CreatePrediction(ctx, identifier, input)
	if err != nil {
		return nil, err
	}
	if !pred.Status.Terminal() {
		pred, err = c.Wait(ctx, pred)
		if err != nil {
			if !pred.Status.Terminal() {
				c.cancelDetached(pred.ID)
			}
			return nil, err
		}
	}
	if pred.Status != StatusSucceeded {
		return nil, &PredictionError{ID: pred.ID, Status: pred.Status, Message: pred.ErrorMessage()}
	}
	output := pred.Output
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return output, nil
}

// CreatePrediction submits a new prediction.
func (c *Client) CreatePrediction(ctx context.Context, identifier string, input map[string]any) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	endpoint, body, err := c.createTarget(identifier, input)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	header := http.Header{}
	if c.waitSeconds > 0 {
		header.Set("Prefer", "wait="+strconv.Itoa(c.waitSeconds))
	}
	var pred Prediction
	if err := c.do(ctx, http.MethodPost, endpoint, payload, header, &pred); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("prediction_id", pred.ID).
		Str("status", string(pred.Status)).
		Msg("replicate: prediction created")
	return &pred, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	var pred Prediction
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/predictions/"+id, nil, nil, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// CancelPrediction asks the provider to stop a running prediction.
func (c *Client) CancelPrediction(ctx context.Context, id string) error {
	if !c.HasCredentials() {
		return ErrMissingAPIToken
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/v1/predictions/"+id+"/cancel", nil, nil, nil)
}

// Wait polls pred until it reaches a terminal status or ctx ends. Temporary
// poll failures are polled through; other failures are returned at once. The
// prediction itself is never resubmitted.
func (c *Client) Wait(ctx context.Context, pred *Prediction) (*Prediction, error) {
	current := pred
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = c.maxPollInterval
	b.MaxElapsedTime = 0

	op := func() error {
		next, err := c.GetPrediction(ctx, current.ID)
		if err != nil {
			if temporaryPollError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		current = next
		if current.Status.Terminal() {
			return nil
		}
		return errNotFinished
	}
	notify := func(err error, wait time.Duration) {
		if !errors.Is(err, errNotFinished) {
			c.logger.Warn().Err(err).Str("prediction_id", current.ID).Dur("next_poll", wait).Msg("replicate: status poll failed")
			return
		}
		c.logger.Debug().
			Str("prediction_id", current.ID).
			Str("status", string(current.Status)).
			Dur("next_poll", wait).
			Msg("replicate: waiting for prediction")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return current, err
	}
	return current, nil
}

// temporaryPollError reports whether a failed status read is worth repeating.
func temporaryPollError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) cancelDetached(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.CancelPrediction(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("prediction_id", id).Msg("replicate: cancel abandoned prediction")
	}
}

func (c *Client) createTarget(identifier string, input map[string]any) (string, createRequest, error) {
	identifier = strings.TrimSpace(identifier)
	model, version, hasVersion := strings.Cut(identifier, ":")
	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") || (hasVersion && version == "") {
		return "", createRequest{}, fmt.Errorf("replicate: invalid model identifier %q", identifier)
	}
	if hasVersion {
		return c.baseURL + "/v1/predictions", createRequest{Version: version, Input: input}, nil
	}
	return c.baseURL + "/v1/models/" + owner + "/" + name + "/predictions", createRequest{Input: input}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, header http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{}
		if err := json.Unmarshal(raw, apiErr); err != nil || (apiErr.Detail == "" && apiErr.Title == "") {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}
