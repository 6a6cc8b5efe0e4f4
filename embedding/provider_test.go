package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

func hashingCfg(dim int) config.EmbeddingConfig {
	return config.EmbeddingConfig{Provider: config.EmbeddingAltLocal, TargetDimension: dim}
}

func TestNormalizeDimension_Pad(t *testing.T) {
	native := make([]float32, 384)
	for i := range native {
		native[i] = 0.5
	}
	out := normalizeDimension(native, 1536, "test")
	require.Len(t, out, 1536)
	for i := 0; i < 384; i++ {
		assert.Equal(t, float32(0.5), out[i])
	}
	for i := 384; i < 1536; i++ {
		assert.Equal(t, float32(0), out[i], "tail beyond native length must be zero")
	}
}

func TestNormalizeDimension_PassThroughAndTruncate(t *testing.T) {
	same := make([]float32, 128)
	assert.Len(t, normalizeDimension(same, 128, "test"), 128)

	big := make([]float32, 200)
	for i := range big {
		big[i] = float32(i)
	}
	out := normalizeDimension(big, 128, "test")
	require.Len(t, out, 128)
	assert.Equal(t, float32(127), out[127])
}

func TestHashing_Deterministic(t *testing.T) {
	p := NewHashing(hashingCfg(256))

	a, err := p.EmbedOne(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := p.EmbedOne(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 256)

	c, err := p.EmbedOne(context.Background(), "a completely different sentence")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestHashing_RejectsEmptySingle(t *testing.T) {
	p := NewHashing(hashingCfg(256))
	_, err := p.EmbedOne(context.Background(), "   \t ")
	var eerr *schema.EmbeddingError
	require.ErrorAs(t, err, &eerr)
}

func TestEmbedBatch_OrderAndZeroFill(t *testing.T) {
	p := NewHashing(hashingCfg(64))
	texts := []string{"first", "", "third", "   ", "fifth"}

	vecs, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts), "batch output length matches input")

	assert.Equal(t, zeroVector(64), vecs[1], "empty entry becomes zero vector")
	assert.Equal(t, zeroVector(64), vecs[3])

	first, _ := p.EmbedOne(context.Background(), "first")
	fifth, _ := p.EmbedOne(context.Background(), "fifth")
	assert.Equal(t, first, vecs[0], "order is preserved")
	assert.Equal(t, fifth, vecs[4])
}

func TestCheckQuality(t *testing.T) {
	sparse := make([]float32, 1536)
	sparse[0] = 1
	assert.Error(t, checkQuality(sparse))

	dense := make([]float32, 1536)
	for i := 0; i < schema.MinNonZero; i++ {
		dense[i] = 0.01
	}
	assert.NoError(t, checkQuality(dense))
}

func TestOllama_EmbedOne(t *testing.T) {
	dense := make([]float32, 384)
	for i := range dense {
		dense[i] = 0.25
	}
	var embedCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			atomic.AddInt32(&embedCalls, 1)
			var req ollamaEmbedRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.Equal(t, "nomic-embed-text", req.Model)
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: dense})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewOllama(config.EmbeddingConfig{BaseURL: srv.URL, TargetDimension: 1536})
	vec, err := p.EmbedOne(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)
	assert.Equal(t, float32(0.25), vec[0])
	assert.Equal(t, float32(0), vec[1535])
}

func TestOllama_LazyInitRunsOnce(t *testing.T) {
	dense := make([]float32, 1536)
	for i := range dense {
		dense[i] = 0.1
	}
	var tagCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			atomic.AddInt32(&tagCalls, 1)
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: dense})
	}))
	defer srv.Close()

	p := NewOllama(config.EmbeddingConfig{BaseURL: srv.URL, TargetDimension: 1536})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.EmbedOne(context.Background(), "concurrent first call")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&tagCalls), "initialization must not race or repeat")
}

func TestOllama_ServerErrorSurfacesEmbeddingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllama(config.EmbeddingConfig{BaseURL: srv.URL, TargetDimension: 1536})
	_, err := p.EmbedOne(context.Background(), "boom")
	var eerr *schema.EmbeddingError
	require.ErrorAs(t, err, &eerr)
}

func TestNewProvider_Factory(t *testing.T) {
	p, err := NewProvider(hashingCfg(128))
	require.NoError(t, err)
	assert.Equal(t, "hashing", p.Name())

	p, err = NewProvider(config.EmbeddingConfig{Provider: config.EmbeddingLocal, TargetDimension: 1536})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = NewProvider(config.EmbeddingConfig{Provider: "remote"})
	assert.Error(t, err, "remote provider without api key")

	_, err = NewProvider(config.EmbeddingConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestOllama_InitRetriesAfterTransientFailure(t *testing.T) {
	dense := make([]float32, 1536)
	for i := range dense {
		dense[i] = 0.1
	}
	var tagCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			if atomic.AddInt32(&tagCalls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: dense})
	}))
	defer srv.Close()

	p := NewOllama(config.EmbeddingConfig{BaseURL: srv.URL, TargetDimension: 1536})

	_, err := p.EmbedOne(context.Background(), "first attempt")
	require.Error(t, err)

	vec, err := p.EmbedOne(context.Background(), "second attempt")
	require.NoError(t, err, "a failed health check must not poison the provider")
	assert.Len(t, vec, 1536)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tagCalls))
}

func TestOllama_CanceledFirstCallDoesNotPoisonInit(t *testing.T) {
	dense := make([]float32, 1536)
	for i := range dense {
		dense[i] = 0.1
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: dense})
	}))
	defer srv.Close()

	p := NewOllama(config.EmbeddingConfig{BaseURL: srv.URL, TargetDimension: 1536})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = p.EmbedOne(canceled, "canceled caller")

	vec, err := p.EmbedOne(context.Background(), "healthy caller")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)
}
