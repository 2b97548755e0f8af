// Package archive uploads finished artifacts to an external object
// store over its HTTP API, keyed by bucket and object path with
// bearer-token auth.
package archive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/internal/httpclient"
	"github.com/glowworks/atelier/logger"
)

// Config holds uploader configuration.
type Config struct {
	// BaseURL is the storage service root, e.g.
	// https://project.supabase.co.
	BaseURL     string
	Bucket      string
	BearerToken string
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
}

// Uploader pushes artifacts to the object store.
type Uploader struct {
	baseURL    string
	bucket     string
	token      string
	httpClient *httpclient.SaferClient
	logger     *zap.SugaredLogger
}

// NewUploader creates an uploader. BaseURL, Bucket, and BearerToken
// are required: a misconfigured archive must fail at startup, not by
// silently dropping artifacts later.
func NewUploader(config Config) (*Uploader, error) {
	if config.BaseURL == "" {
		return nil, errors.New("archive base URL is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if config.BearerToken == "" {
		return nil, errors.New("archive bearer token is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Uploader{
		baseURL:    config.BaseURL,
		bucket:     config.Bucket,
		token:      config.BearerToken,
		httpClient: httpclient.New(config.Timeout),
		logger:     log,
	}, nil
}

// SetHTTPClient overrides the HTTP client. Only for tests.
func (u *Uploader) SetHTTPClient(client *http.Client) {
	u.httpClient = httpclient.WrapClient(client)
}

// Store uploads one artifact. objectPath must be non-empty; an
// artifact with no destination is a correlation bug upstream.
func (u *Uploader) Store(ctx context.Context, objectPath string, data []byte) error {
	if objectPath == "" {
		return errors.New("refusing to store artifact without an object path")
	}
	if len(data) == 0 {
		return errors.Newf("refusing to store empty artifact at %s", objectPath)
	}

	uploadURL := u.baseURL + "/storage/v1/object/" + u.bucket + "/" + objectPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "creating upload request")
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "image/png")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "uploading %s", objectPath)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return errors.Newf("upload of %s failed with status %d: %s", objectPath, resp.StatusCode, string(body))
	}

	u.logger.Infow("artifact stored",
		logger.FieldFile, objectPath,
		logger.FieldBytes, len(data),
	)
	return nil
}
