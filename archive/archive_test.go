package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUploader(t *testing.T, serverURL string) *Uploader {
	t.Helper()
	u, err := NewUploader(Config{
		BaseURL:     serverURL,
		Bucket:      "renders",
		BearerToken: "secret-token",
	})
	require.NoError(t, err)
	u.SetHTTPClient(http.DefaultClient)
	return u
}

func TestStore(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)
	err := u.Store(context.Background(), "Jennie/exec-1.png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/storage/v1/object/renders/Jennie/exec-1.png", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, []byte("png-bytes"), gotBody)
}

func TestStoreServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("permission denied"))
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)
	err := u.Store(context.Background(), "x.png", []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestStoreRefusesMissingMetadata(t *testing.T) {
	u := newTestUploader(t, "http://example.com")

	err := u.Store(context.Background(), "", []byte("data"))
	require.Error(t, err)

	err = u.Store(context.Background(), "x.png", nil)
	require.Error(t, err)
}

func TestNewUploaderValidatesConfig(t *testing.T) {
	_, err := NewUploader(Config{Bucket: "b", BearerToken: "t"})
	require.Error(t, err)

	_, err = NewUploader(Config{BaseURL: "http://x", BearerToken: "t"})
	require.Error(t, err)

	_, err = NewUploader(Config{BaseURL: "http://x", Bucket: "b"})
	require.Error(t, err)
}
