package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowworks/atelier/errors"
)

// newTestClient builds a client against a test server with a fast,
// deterministic backoff so retry tests run in milliseconds.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:    baseURL,
		ClientID:   "atelier-test",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff: &Backoff{
			Base:       time.Millisecond,
			Multiplier: 2,
			Max:        10 * time.Millisecond,
		},
	})
}

func TestSubmitSuccess(t *testing.T) {
	var gotPayload submitPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/prompt", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"prompt_id":"abc123"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, err := client.Submit(context.Background(), Request{
		Prompt:   "studio portrait",
		Persona:  "Jennie",
		Workflow: "turbo",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "atelier-test", gotPayload.ClientID)
	assert.Equal(t, "turbo", gotPayload.WorkflowID)
	assert.Equal(t, "studio portrait", gotPayload.Overrides.PositivePrompt)
	assert.Equal(t, "random", gotPayload.SeedConfig.Strategy)
}

func TestSubmitFixedSeed(t *testing.T) {
	var gotPayload submitPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"prompt_id":"abc"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), Request{
		Prompt:       "p",
		Workflow:     "base",
		SeedStrategy: SeedFixed,
		Seed:         1337,
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed", gotPayload.SeedConfig.Strategy)
	assert.Equal(t, int64(1337), gotPayload.SeedConfig.Seed)
}

func TestSubmitRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail transiently exactly maxRetries times, then succeed.
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"prompt_id":"after-retries"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.NoError(t, err)
	assert.Equal(t, "after-retries", id)
	assert.Equal(t, int32(4), calls.Load())
}

func TestSubmitExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.Error(t, err)
	assert.True(t, errors.IsBackendUnavailable(err))
	assert.Contains(t, err.Error(), "4 attempts")
	assert.Equal(t, int32(4), calls.Load())
}

func TestSubmitNoRetryOnValidationError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"validation","message":"bad lora"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "bad lora")
	assert.Equal(t, int32(1), calls.Load())

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, http.StatusBadRequest, vErr.StatusCode)
	assert.Equal(t, "validation", vErr.Type)
	assert.Equal(t, "bad lora", vErr.Message)
}

func TestValidationErrorDecodesNodeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"prompt_outputs_failed","message":"invalid graph"},
			"node_errors":{"12":{"class_type":"LoraLoader","errors":["lora not found"]}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "prompt_outputs_failed", vErr.Type)
	assert.Equal(t, "invalid graph", vErr.Message)
	require.Len(t, vErr.NodeErrors, 1)
	assert.Contains(t, vErr.NodeErrors["12"], "lora not found")
	assert.Contains(t, err.Error(), "invalid graph")
}

func TestValidationErrorKeepsUnstructuredBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("access denied"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Empty(t, vErr.Message)
	assert.Contains(t, err.Error(), "access denied")
}

func TestConcurrentSubmits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prompt_id":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestSubmit429Retried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"prompt_id":"after-429"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.NoError(t, err)
	assert.Equal(t, "after-429", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmitMalformedJSONRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"prompt_id":`))
			return
		}
		w.Write([]byte(`{"prompt_id":"recovered"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmitProtocolError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Submit(context.Background(), Request{Prompt: "p", Workflow: "w"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBackendProtocol))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollStatusCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history/abc123", r.URL.Path)
		w.Write([]byte(`{"abc123":{"status":{"status_str":"success"},"outputs":{"9":{"images":[{"filename":"x.png","subfolder":"","type":"output"}]}}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.PollStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Outputs, 1)
	assert.Equal(t, "x.png", result.Outputs[0].Filename)
}

func TestPollStatusFailedCarriesDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"abc123":{"status":{"status_str":"error","messages":["node 7: out of memory"]},"outputs":{}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.PollStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Detail, "out of memory")
}

func TestPollStatusNotInHistoryChecksQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/history/abc123":
			w.Write([]byte(`{}`))
		case "/queue":
			w.Write([]byte(`{"queue_pending":[],"queue_running":[[0,"abc123",{}]]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.PollStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, result.Status)
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/view", r.URL.Path)
		require.Equal(t, "x.png", r.URL.Query().Get("filename"))
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	data, err := client.Download(context.Background(), OutputRef{Filename: "x.png", Type: "output"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestDownloadEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Download(context.Background(), OutputRef{Filename: "x.png"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDownload))
}

func TestDownloadByExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/image/generate/abc123/download", r.URL.Path)
		w.Write([]byte("artifact"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	data, err := client.DownloadByExecution(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)
}

func TestUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload/image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "ref_001.png", header.Filename)
		w.Write([]byte(`{"name":"ref_001.png","subfolder":"uploads"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	path, err := client.Upload(context.Background(), []byte("image-bytes"), "ref_001.png")
	require.NoError(t, err)
	assert.Equal(t, "uploads/ref_001.png", path)
}
