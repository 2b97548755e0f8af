package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/internal/httpclient"
	"github.com/glowworks/atelier/logger"
)

// Config holds render client configuration.
type Config struct {
	BaseURL    string
	ClientID   string
	Timeout    time.Duration
	MaxRetries int // additional attempts after the first
	Backoff    *Backoff
	Logger     *zap.SugaredLogger
	// RequestsPerMinute throttles outbound calls when > 0. This
	// paces requests; the execution queue still serializes them.
	RequestsPerMinute int
}

// Client talks to the image render backend. All operations share the
// same retry schedule: transient failures (network errors, 5xx, 429,
// malformed JSON) are retried with exponential backoff; other 4xx
// responses surface immediately as ValidationError.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *httpclient.SaferClient
	backoff    *Backoff
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

// NewClient creates a render backend client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.Backoff == nil {
		config.Backoff = NewBackoff()
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1)
	}

	// Render backends usually listen on localhost, so the private-IP
	// block stays off here. Scheme and redirect guards still apply.
	blockPrivateIP := false
	saferClient := httpclient.NewWithOptions(config.Timeout, httpclient.Options{
		BlockPrivateIP: &blockPrivateIP,
	})

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		clientID:   config.ClientID,
		httpClient: saferClient,
		backoff:    config.Backoff,
		maxRetries: config.MaxRetries,
		limiter:    limiter,
		logger:     log,
	}
}

// SetHTTPClient overrides the HTTP client. Only for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}

// submitPayload is the wire shape for job submission.
type submitPayload struct {
	WorkflowID string         `json:"workflow_id"`
	ClientID   string         `json:"client_id"`
	Overrides  inputOverrides `json:"input_overrides"`
	SeedConfig seedConfig     `json:"seed_config"`
}

type inputOverrides struct {
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Persona        string `json:"persona,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	RefImage       string `json:"ref_image,omitempty"`
}

type seedConfig struct {
	Strategy string `json:"strategy"`
	Seed     int64  `json:"seed"`
}

// Submit sends a render request and returns the backend-assigned
// execution id. A 2xx response without an extractable id is a
// protocol violation and is not retried.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	seed := req.Seed
	strategy := req.SeedStrategy
	if strategy == "" {
		strategy = SeedRandom
	}
	if strategy == SeedRandom {
		// The package-level source is locked, so concurrent Submit
		// calls are safe even without the execution queue in front.
		seed = rand.Int63()
	}

	payload := submitPayload{
		WorkflowID: req.Workflow,
		ClientID:   c.clientID,
		Overrides: inputOverrides{
			PositivePrompt: req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Persona:        req.Persona,
			Width:          req.Width,
			Height:         req.Height,
			RefImage:       req.RefImage,
		},
		SeedConfig: seedConfig{
			Strategy: string(strategy),
			Seed:     seed,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshaling submit payload")
	}

	raw, err := c.doWithRetry(ctx, "submit", http.MethodPost, c.baseURL+"/prompt", "application/json", body, true)
	if err != nil {
		return "", err
	}

	id, ok := ExtractExecutionID(raw)
	if !ok {
		return "", errors.Mark(
			errors.Newf("submit succeeded but response contains no execution id: %s", truncate(string(raw), 512)),
			errors.ErrBackendProtocol)
	}

	c.logger.Infow("render job submitted",
		logger.FieldExecutionID, id,
		logger.FieldPersona, req.Persona,
		logger.FieldWorkflow, req.Workflow,
	)
	return id, nil
}

// historyEntry mirrors the backend's per-execution history record.
type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []OutputRef `json:"images"`
	} `json:"outputs"`
}

type queueState struct {
	Pending [][]any `json:"queue_pending"`
	Running [][]any `json:"queue_running"`
}

// PollStatus reads the current state of an execution. Jobs absent
// from history are classified as queued or running via the backend's
// queue listing.
func (c *Client) PollStatus(ctx context.Context, executionID string) (*JobResult, error) {
	raw, err := c.doWithRetry(ctx, "poll_status", http.MethodGet,
		c.baseURL+"/history/"+url.PathEscape(executionID), "", nil, true)
	if err != nil {
		return nil, err
	}

	var history map[string]historyEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, errors.Wrapf(err, "decoding history for execution %s", executionID)
	}

	entry, found := history[executionID]
	if !found {
		// Not in history yet; the queue listing tells us whether the
		// job is waiting or executing.
		status, err := c.queuePosition(ctx, executionID)
		if err != nil {
			return nil, err
		}
		return &JobResult{ExecutionID: executionID, Status: status}, nil
	}

	result := &JobResult{ExecutionID: executionID}
	switch strings.ToLower(entry.Status.StatusStr) {
	case "success", "completed":
		result.Status = StatusCompleted
	case "error", "failed":
		result.Status = StatusFailed
		result.Detail = failureDetail(entry.Status.Messages)
	case "running", "executing":
		result.Status = StatusRunning
	default:
		result.Status = StatusQueued
	}

	for _, node := range entry.Outputs {
		result.Outputs = append(result.Outputs, node.Images...)
	}
	return result, nil
}

// queuePosition infers queued vs running from the backend queue
// listing. An id in neither list is reported as queued: history
// lags briefly after execution starts.
func (c *Client) queuePosition(ctx context.Context, executionID string) (ExecutionStatus, error) {
	raw, err := c.doWithRetry(ctx, "poll_status", http.MethodGet, c.baseURL+"/queue", "", nil, true)
	if err != nil {
		return "", err
	}

	var state queueState
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", errors.Wrap(err, "decoding queue state")
	}

	if queueContains(state.Running, executionID) {
		return StatusRunning, nil
	}
	return StatusQueued, nil
}

// queueContains scans backend queue rows for an execution id. Rows
// are heterogeneous arrays; the id may sit at any position.
func queueContains(rows [][]any, executionID string) bool {
	for _, row := range rows {
		for _, cell := range row {
			if s, ok := cell.(string); ok && s == executionID {
				return true
			}
		}
	}
	return false
}

// Download fetches the raw bytes of a named output.
func (c *Client) Download(ctx context.Context, ref OutputRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	return c.downloadURL(ctx, c.baseURL+"/view?"+q.Encode())
}

// DownloadByExecution fetches an execution's artifact through the
// direct-download endpoint, used when the history record carries no
// structured output reference.
func (c *Client) DownloadByExecution(ctx context.Context, executionID string) ([]byte, error) {
	return c.downloadURL(ctx, c.baseURL+"/image/generate/"+url.PathEscape(executionID)+"/download")
}

func (c *Client) downloadURL(ctx context.Context, u string) ([]byte, error) {
	raw, err := c.doWithRetry(ctx, "download", http.MethodGet, u, "", nil, false)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.Mark(errors.Newf("download returned empty body from %s", u), errors.ErrDownload)
	}
	return raw, nil
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
}

// Upload pushes a reference image to the backend and returns the
// path the backend will use to locate it in a workflow.
func (c *Client) Upload(ctx context.Context, data []byte, name string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return "", errors.Wrap(err, "creating multipart field")
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(err, "writing multipart body")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "finalizing multipart body")
	}

	raw, err := c.doWithRetry(ctx, "upload", http.MethodPost,
		c.baseURL+"/upload/image", writer.FormDataContentType(), buf.Bytes(), true)
	if err != nil {
		return "", err
	}

	var resp uploadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(err, "decoding upload response")
	}
	if resp.Name == "" {
		return "", errors.Mark(errors.New("upload succeeded but response contains no name"), errors.ErrBackendProtocol)
	}

	if resp.Subfolder != "" {
		return resp.Subfolder + "/" + resp.Name, nil
	}
	return resp.Name, nil
}

// doWithRetry performs one logical operation with the uniform retry
// schedule. When expectJSON is set, a 2xx body that fails to parse as
// JSON counts as transient (truncated proxy responses). The returned
// bytes are the raw response body of the successful attempt.
func (c *Client) doWithRetry(ctx context.Context, op, method, requestURL, contentType string, body []byte, expectJSON bool) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			c.logger.Debugw("retrying backend request",
				logger.FieldOperation, op,
				logger.FieldAttempt, attempt,
				logger.FieldWaitMS, delay.Milliseconds(),
				logger.FieldError, lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrapf(ctx.Err(), "%s canceled while backing off", op)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrapf(err, "%s canceled while rate limited", op)
			}
		}

		raw, err := c.doOnce(ctx, op, method, requestURL, contentType, body, expectJSON)
		if err == nil {
			if attempt > 0 {
				c.logger.Infow("backend request succeeded after retries",
					logger.FieldOperation, op, logger.FieldAttempt, attempt+1)
			}
			return raw, nil
		}

		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.Mark(
		errors.Wrapf(lastErr, "%s failed after %d attempts", op, c.maxRetries+1),
		errors.ErrBackendUnavailable)
}

// doOnce performs a single HTTP attempt and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, op, method, requestURL, contentType string, body []byte, expectJSON bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s request", op)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debugw("backend request",
		logger.FieldOperation, op,
		logger.FieldMethod, method,
		logger.FieldURL, requestURL,
	)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s request failed", op), errTransient)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading %s response", op), errTransient)
	}

	c.logger.Debugw("backend response",
		logger.FieldOperation, op,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		logger.FieldBytes, len(raw),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Mark(errors.Newf("%s rate limited (status 429)", op), errTransient)
	case resp.StatusCode >= 500:
		return nil, errors.Mark(
			errors.Newf("%s failed with status %d: %s", op, resp.StatusCode, truncate(string(raw), 256)),
			errTransient)
	case resp.StatusCode >= 400:
		return nil, newValidationError(op, resp.StatusCode, truncate(string(raw), 2048))
	}

	if expectJSON && !json.Valid(raw) {
		return nil, errors.Mark(
			errors.Newf("%s returned malformed JSON: %s", op, truncate(string(raw), 256)),
			errTransient)
	}

	return raw, nil
}

// errTransient marks failures eligible for retry. Internal to the
// client; callers only ever see the terminal classifications.
var errTransient = errors.New("transient backend error")

func isTransient(err error) bool {
	if errors.Is(err, errTransient) {
		return true
	}

	if netErr, ok := errors.UnwrapAll(err).(net.Error); ok && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errno, ok := opErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// failureDetail flattens backend status messages into one line.
func failureDetail(messages []any) string {
	if len(messages) == 0 {
		return "backend reported failure without detail"
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, fmt.Sprintf("%v", m))
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
