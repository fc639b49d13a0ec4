package httpjson

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/docsearch-mcp/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPost_DecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["q"]})
	}))
	defer server.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := Post(context.Background(), NewClient(0), server.URL, "secret", map[string]string{"q": "ping"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ping", out.Echo)
}

func TestPost_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	var out map[string]any
	err := Post(context.Background(), NewClient(0), server.URL, "", map[string]string{}, &out)

	var status *retry.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusTooManyRequests, status.StatusCode)
	assert.Equal(t, "slow down", status.Body)
	assert.Equal(t, retry.ClassAPI, retry.Classify(err))
}

func TestPost_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	var out map[string]any
	err := Post(context.Background(), NewClient(0), server.URL, "", map[string]string{}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
