package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/docsearch-mcp/internal/limiter"
	"github.com/dshills/docsearch-mcp/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records calls and lets tests inject failures
type fakeBackend struct {
	mu         sync.Mutex
	calls      int
	batches    [][]string
	inputTypes []InputType
	dim        int
	maxBatch   int
	fail       func(call int, texts []string) error
	vector     func(text string) []float32
	block      bool
}

func newFakeBackend(dim int) *fakeBackend {
	return &fakeBackend{dim: dim}
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.inputTypes = append(f.inputTypes, inputType)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail != nil {
		if err := f.fail(call, texts); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.vector != nil {
			out[i] = f.vector(text)
			continue
		}
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(text)%7+j+1) * 0.5
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeBackend) Name() string      { return "fake" }
func (f *fakeBackend) Model() string     { return "fake-model" }
func (f *fakeBackend) Dimension() int    { return f.dim }
func (f *fakeBackend) MaxBatchSize() int { return f.maxBatch }
func (f *fakeBackend) Close() error      { return nil }

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Multiplier: 2,
		LinearStep: time.Millisecond,
	}
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("chunk text number %d", i)
	}
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return sum
}

func TestClient_NormalizesVectors(t *testing.T) {
	backend := newFakeBackend(8)
	client := NewClient(backend, ClientOptions{Retry: fastRetry()})

	embs, err := client.EmbedDocuments(context.Background(), texts(5))
	require.NoError(t, err)
	require.Len(t, embs, 5)
	for _, emb := range embs {
		require.NotNil(t, emb)
		assert.InDelta(t, 1.0, norm(emb.Vector), 1e-5)
		assert.Equal(t, 8, emb.Dimension)
		assert.Equal(t, "fake", emb.Provider)
		assert.Equal(t, "fake-model", emb.Model)
	}

	q, err := client.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(q.Vector), 1e-5)
}

func TestClient_ZeroVectorUnchanged(t *testing.T) {
	backend := newFakeBackend(4)
	backend.vector = func(string) []float32 { return make([]float32, 4) }
	client := NewClient(backend, ClientOptions{Retry: fastRetry()})

	emb, err := client.EmbedQuery(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, emb.Vector)
}

func TestClient_InputTypeFixedByMethod(t *testing.T) {
	backend := newFakeBackend(4)
	client := NewClient(backend, ClientOptions{Retry: fastRetry()})

	_, err := client.EmbedDocuments(context.Background(), texts(2))
	require.NoError(t, err)
	_, err = client.EmbedQuery(context.Background(), "find documents")
	require.NoError(t, err)

	assert.Equal(t, []InputType{InputDocument, InputQuery}, backend.inputTypes)
}

func TestClient_Batching(t *testing.T) {
	backend := newFakeBackend(4)
	backend.maxBatch = 40
	client := NewClient(backend, ClientOptions{BatchSize: 50, Retry: fastRetry()})

	embs, err := client.EmbedDocuments(context.Background(), texts(100))
	require.NoError(t, err)
	assert.Len(t, embs, 100)

	require.Len(t, backend.batches, 3)
	assert.Len(t, backend.batches[0], 40)
	assert.Len(t, backend.batches[1], 40)
	assert.Len(t, backend.batches[2], 20)
	assert.Equal(t, "chunk text number 40", backend.batches[1][0])
}

func TestClient_FailedBatchLeavesHoles(t *testing.T) {
	backend := newFakeBackend(4)
	backend.fail = func(call int, texts []string) error {
		if strings.HasSuffix(texts[0], " 10") {
			return &retry.StatusError{StatusCode: 400, Body: "bad input"}
		}
		return nil
	}
	client := NewClient(backend, ClientOptions{BatchSize: 10, Retry: fastRetry()})

	embs, err := client.EmbedDocuments(context.Background(), texts(30))
	require.Error(t, err)
	require.Len(t, embs, 30)

	var batchErr *EmbeddingError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 10, batchErr.Start)
	assert.Equal(t, 20, batchErr.End)
	assert.Len(t, batchErr.Failed(), 10)
	assert.ErrorIs(t, err, ErrProviderFailed)

	for i, emb := range embs {
		if i >= 10 && i < 20 {
			assert.Nil(t, emb, "index %d should be a hole", i)
		} else {
			assert.NotNil(t, emb, "index %d should be embedded", i)
		}
	}
	assert.Equal(t, 3, backend.callCount(), "permanent errors are not retried")
}

func TestClient_FailedBatchSkipsCachedIndices(t *testing.T) {
	backend := newFakeBackend(4)
	client := NewClient(backend, ClientOptions{Cache: NewCache(100), Retry: fastRetry()})

	all := texts(6)
	_, err := client.EmbedDocuments(context.Background(), []string{all[1], all[3]})
	require.NoError(t, err)

	backend.fail = func(int, []string) error {
		return &retry.StatusError{StatusCode: 400, Body: "bad input"}
	}
	embs, err := client.EmbedDocuments(context.Background(), all)
	require.Error(t, err)

	var batchErr *EmbeddingError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 0, batchErr.Start)
	assert.Equal(t, 6, batchErr.End)
	assert.Equal(t, []int{0, 2, 4, 5}, batchErr.Failed())
	assert.Contains(t, batchErr.Error(), "embed 4 texts")

	for _, i := range batchErr.Failed() {
		assert.Nil(t, embs[i])
	}
	assert.NotNil(t, embs[1])
	assert.NotNil(t, embs[3])
}

func TestEmbeddingError_FailedWithoutIndices(t *testing.T) {
	err := &EmbeddingError{Start: 2, End: 5, Err: errors.New("boom")}
	assert.Equal(t, []int{2, 3, 4}, err.Failed())
	assert.Equal(t, "embed 3 texts in [2:5]: boom", err.Error())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	backend := newFakeBackend(4)
	backend.fail = func(call int, texts []string) error {
		if call < 3 {
			return &retry.StatusError{StatusCode: 429}
		}
		return nil
	}
	client := NewClient(backend, ClientOptions{Retry: fastRetry()})

	emb, err := client.EmbedQuery(context.Background(), "retry me")
	require.NoError(t, err)
	assert.NotNil(t, emb)
	assert.Equal(t, 3, backend.callCount())
}

func TestClient_ExhaustedRetriesReturnEmbeddingError(t *testing.T) {
	backend := newFakeBackend(4)
	backend.fail = func(int, []string) error { return errors.New("connection reset") }
	client := NewClient(backend, ClientOptions{Retry: fastRetry()})

	_, err := client.EmbedQuery(context.Background(), "never works")
	require.Error(t, err)

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 3, backend.callCount())
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	backend := newFakeBackend(4)
	backend.block = true
	cfg := fastRetry()
	cfg.MaxRetries = 1
	client := NewClient(backend, ClientOptions{Timeout: 10 * time.Millisecond, Retry: cfg})

	start := time.Now()
	_, err := client.EmbedQuery(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, backend.callCount(), "timeouts are retried")
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_InputTooLargeNotSent(t *testing.T) {
	backend := newFakeBackend(4)
	client := NewClient(backend, ClientOptions{MaxInputTokens: 10, Retry: fastRetry()})

	_, err := client.EmbedDocuments(context.Background(), []string{"short", strings.Repeat("x", 200)})
	assert.ErrorIs(t, err, ErrInputTooLarge)

	_, err = client.EmbedQuery(context.Background(), strings.Repeat("y", 200))
	assert.ErrorIs(t, err, ErrInputTooLarge)

	assert.Zero(t, backend.callCount())
	assert.Equal(t, 10, client.MaxInputTokens())
}

func TestClient_EmptyText(t *testing.T) {
	client := NewClient(newFakeBackend(4), ClientOptions{})
	_, err := client.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)

	embs, err := client.EmbedDocuments(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, embs)
}

func TestClient_DimensionMismatchIsPermanent(t *testing.T) {
	backend := newFakeBackend(4)
	backend.vector = func(string) []float32 { return []float32{1, 2} }
	client := NewClient(backend, ClientOptions{Retry: fastRetry()})

	_, err := client.EmbedQuery(context.Background(), "wrong size")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, backend.callCount())
}

func TestClient_CacheSeparatesInputTypes(t *testing.T) {
	backend := newFakeBackend(4)
	client := NewClient(backend, ClientOptions{Cache: NewCache(100), Retry: fastRetry()})
	ctx := context.Background()

	_, err := client.EmbedDocuments(ctx, []string{"same text"})
	require.NoError(t, err)
	_, err = client.EmbedDocuments(ctx, []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount())

	_, err = client.EmbedQuery(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.callCount(), "query embedding must not reuse the document embedding")

	cached, err := client.EmbedQuery(ctx, "same text")
	require.NoError(t, err)
	cached.Vector[0] = 42
	again, err := client.EmbedQuery(ctx, "same text")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), again.Vector[0])
	assert.Equal(t, 2, backend.callCount())
}

func TestClient_SharedLimiterBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	backend := newFakeBackend(4)
	backend.fail = func(int, []string) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	lim := limiter.New(2, 0, 0)
	client := NewClient(backend, ClientOptions{Limiter: lim, Retry: fastRetry()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.EmbedQuery(context.Background(), fmt.Sprintf("query %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 8, backend.callCount())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
