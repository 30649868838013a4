package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_AnalyzeImage(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(OllamaResponse{Response: "a cat", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(DefaultOllamaConfig(srv.URL, "llava"))
	out, err := c.AnalyzeImage(context.Background(), []byte{1, 2, 3}, "describe")
	require.NoError(t, err)

	assert.Equal(t, "a cat", out)
	assert.Equal(t, "llava", got.Model)
	assert.Equal(t, "describe", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, []string{base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}, got.Images)
}

func TestOllamaClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
			want: "unexpected status code 404",
		},
		{
			name: "model error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(OllamaResponse{Error: "out of memory"})
			},
			want: "ollama error: out of memory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewOllamaClient(DefaultOllamaConfig(srv.URL, "m")).Refine(context.Background(), "txt")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestOllamaClientPool_Refine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Empty(t, req.Images)
		assert.True(t, strings.HasSuffix(req.Prompt, "helo wrld"))
		_ = json.NewEncoder(w).Encode(OllamaResponse{Response: "hello world"})
	}))
	defer srv.Close()

	pool := NewOllamaClientPool(DefaultOllamaConfig(srv.URL, "m"))
	defer pool.Close()

	out, err := pool.Refine(context.Background(), "helo wrld")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	// client returned to the pool
	assert.Len(t, pool.clients, 2)
}

func TestOllamaClientPool_Exhausted(t *testing.T) {
	cfg := DefaultOllamaConfig("http://unused", "m")
	cfg.MaxPoolSize = 1
	cfg.PoolTimeout = 20 * time.Millisecond
	pool := NewOllamaClientPool(cfg)

	c, err := pool.Get(context.Background())
	require.NoError(t, err)

	_, err = pool.Get(context.Background())
	assert.ErrorContains(t, err, "timeout waiting")

	pool.Put(c)
	require.NoError(t, pool.Close())
}

func TestOllamaClientPool_AnalyzeImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Images, 1)
		_ = json.NewEncoder(w).Encode(OllamaResponse{Response: "# Receipt"})
	}))
	defer srv.Close()

	pool := NewOllamaClientPool(DefaultOllamaConfig(srv.URL, "llava"))
	defer pool.Close()

	out, err := pool.AnalyzeImage(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, "# Receipt", out)
	assert.Len(t, pool.clients, 2)
}

func TestOllamaClientPool_PutAfterClose(t *testing.T) {
	pool := NewOllamaClientPool(DefaultOllamaConfig("http://unused", "m"))

	c, err := pool.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	assert.NotPanics(t, func() { pool.Put(c) })
	assert.NoError(t, pool.Close(), "second close is a no-op")

	_, err = pool.Get(context.Background())
	assert.ErrorContains(t, err, "pool is closed")
}
