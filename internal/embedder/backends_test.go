package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/docsearch-mcp/internal/fusion"
	"github.com/dshills/docsearch-mcp/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoyageBackend(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer voyage-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		// Out of order on purpose; the backend must restore input order
		resp := map[string]any{
			"model": "voyage-3.5",
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	backend, err := NewVoyageBackend(BackendOptions{APIKey: "voyage-key", BaseURL: server.URL, Dimension: 2})
	require.NoError(t, err)

	vecs, err := backend.Embed(context.Background(), []string{"first", "second"}, InputQuery)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)

	assert.Equal(t, "query", got["input_type"])
	assert.Equal(t, DefaultVoyageModel, got["model"])
	assert.Equal(t, float64(2), got["output_dimension"])
	assert.Equal(t, []any{"first", "second"}, got["input"])

	assert.Equal(t, ProviderVoyage, backend.Name())
	assert.Equal(t, VoyageMaxBatch, backend.MaxBatchSize())
	assert.NoError(t, backend.Close())
}

func TestVoyageBackend_RequiresKey(t *testing.T) {
	_, err := NewVoyageBackend(BackendOptions{})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestVoyageBackend_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	backend, err := NewVoyageBackend(BackendOptions{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = backend.Embed(context.Background(), []string{"x"}, InputDocument)
	var status *retry.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestVoyageBackend_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	backend, err := NewVoyageBackend(BackendOptions{APIKey: "k", BaseURL: server.URL, Dimension: 2})
	require.NoError(t, err)

	_, err = backend.Embed(context.Background(), []string{"a", "b"}, InputDocument)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestJinaBackend_TaskMapping(t *testing.T) {
	var tasks []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Task  string   `json:"task"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tasks = append(tasks, body.Task)
		_, _ = w.Write([]byte(`{"model":"jina-embeddings-v3","data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer server.Close()

	backend, err := NewJinaBackend(BackendOptions{APIKey: "jina-key", BaseURL: server.URL, Dimension: 2})
	require.NoError(t, err)

	_, err = backend.Embed(context.Background(), []string{"doc"}, InputDocument)
	require.NoError(t, err)
	_, err = backend.Embed(context.Background(), []string{"query"}, InputQuery)
	require.NoError(t, err)

	assert.Equal(t, []string{"retrieval.passage", "retrieval.query"}, tasks)
}

func TestOpenAIBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer openai-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 2, 0]},
				{"object": "embedding", "index": 0, "embedding": [3, 0, 0]}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(BackendOptions{APIKey: "openai-key", BaseURL: server.URL, Dimension: 3})
	require.NoError(t, err)

	vecs, err := backend.Embed(context.Background(), []string{"a", "b"}, InputDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 0, 0}, {0, 2, 0}}, vecs)
	assert.Equal(t, ProviderOpenAI, backend.Name())
}

func TestOpenAIBackend_AuthErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(BackendOptions{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = backend.Embed(context.Background(), []string{"a"}, InputDocument)
	require.Error(t, err)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestLocalBackend(t *testing.T) {
	backend := NewLocalBackend(256)
	vecs, err := backend.Embed(context.Background(), []string{
		"create an index on a collection",
		"create a compound index on the collection",
		"configure tls certificates for replica sets",
	}, InputDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	related := fusion.Cosine(vecs[0], vecs[1])
	unrelated := fusion.Cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)

	again, err := backend.Embed(context.Background(), []string{"create an index on a collection"}, InputQuery)
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0], "local embeddings are deterministic")
	assert.Equal(t, 256, backend.Dimension())
}
