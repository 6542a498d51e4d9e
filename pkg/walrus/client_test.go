package walrus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sewn-rag-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) config.WalrusConfig {
	return config.WalrusConfig{
		APIURL:         url,
		APIKey:         "test-key",
		TimeoutSeconds: 2,
		Enabled:        true,
	}
}

func TestClientStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/store", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		var req struct {
			Data     string         `json:"data"`
			Metadata map[string]any `json:"metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		decoded, err := base64.StdEncoding.DecodeString(req.Data)
		require.NoError(t, err)
		assert.Equal(t, "hello walrus", string(decoded))
		assert.Equal(t, "alpha.txt", req.Metadata["filename"])

		json.NewEncoder(w).Encode(map[string]string{"blob_id": "blob-42"})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	blobID, err := client.Store(context.Background(), []byte("hello walrus"), map[string]any{"filename": "alpha.txt"})
	require.NoError(t, err)
	assert.Equal(t, "blob-42", blobID)
}

func TestClientStoreServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Store(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientStoreUnreachable(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"))
	_, err := client.Store(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/retrieve/blob-42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"data": base64.StdEncoding.EncodeToString([]byte("stored content")),
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	content, err := client.Retrieve(context.Background(), "blob-42")
	require.NoError(t, err)
	assert.Equal(t, "stored content", string(content))
}

func TestClientRetrieveMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"data": "!!!not-base64!!!"})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Retrieve(context.Background(), "blob-42")
	assert.ErrorIs(t, err, ErrRetrieve)
}

func TestClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/list", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"blobs": []map[string]any{
				{"id": "blob-1", "metadata": map[string]any{"filename": "alpha.txt"}, "timestamp": "2026-01-01T00:00:00Z", "size": 12},
				{"id": "blob-2", "metadata": map[string]any{"filename": "beta.txt"}, "timestamp": "2026-01-02T00:00:00Z", "size": 34},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	blobs, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "blob-1", blobs[0].BlobID)
	assert.Equal(t, int64(34), blobs[1].Size)
	assert.True(t, blobs[0].Exists)
}

func TestClientInfoFromList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"blobs": []map[string]any{
				{"id": "blob-1", "metadata": map[string]any{"filename": "alpha.txt"}, "timestamp": "2026-01-01T00:00:00Z", "size": 12},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	info, err := client.Info(context.Background(), "blob-1")
	require.NoError(t, err)
	assert.Equal(t, "blob-1", info.BlobID)
	assert.Equal(t, int64(12), info.Size)
}

func TestClientInfoFallsBackToRetrieve(t *testing.T) {
	// list 为空但 retrieve 成功：返回降级描述
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/list" {
			json.NewEncoder(w).Encode(map[string]any{"blobs": []map[string]any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"data": base64.StdEncoding.EncodeToString([]byte("content")),
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	info, err := client.Info(context.Background(), "blob-9")
	require.NoError(t, err)
	assert.Equal(t, "blob-9", info.BlobID)
	assert.True(t, info.Exists)
	assert.NotEmpty(t, info.Message)
}

func TestClientInfoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/list" {
			json.NewEncoder(w).Encode(map[string]any{"blobs": []map[string]any{}})
			return
		}
		http.Error(w, "no such blob", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Info(context.Background(), "blob-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
