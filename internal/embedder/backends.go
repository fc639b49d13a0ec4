package embedder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/docsearch-mcp/internal/httpjson"
	"github.com/dshills/docsearch-mcp/internal/retry"
)

// Provider configuration
const (
	ProviderVoyage = "voyage"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultVoyageModel = "voyage-3.5"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "hashing-v1"

	// Dimensions
	VoyageDimension = 1024
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	VoyageMaxBatch = 128
	JinaMaxBatch   = 100
	OpenAIMaxBatch = 100

	// Endpoints
	DefaultVoyageURL = "https://api.voyageai.com/v1/embeddings"
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1"
)

// BackendOptions configures a remote backend
type BackendOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimension  int
	HTTPClient *http.Client
}

func (o BackendOptions) withDefaults(model, url string, dim int) BackendOptions {
	if o.Model == "" {
		o.Model = model
	}
	if o.BaseURL == "" {
		o.BaseURL = url
	}
	if o.Dimension <= 0 {
		o.Dimension = dim
	}
	if o.HTTPClient == nil {
		o.HTTPClient = httpjson.NewClient(0)
	}
	return o
}

// embeddingData is the response shape shared by Voyage and Jina
type embeddingData struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (r *embeddingData) vectors(n int) ([][]float32, error) {
	if len(r.Data) != n {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrProviderFailed, len(r.Data), n)
	}
	sort.SliceStable(r.Data, func(i, j int) bool { return r.Data[i].Index < r.Data[j].Index })
	out := make([][]float32, n)
	for i, d := range r.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// VoyageBackend calls the Voyage AI embeddings API
type VoyageBackend struct {
	opts BackendOptions
}

// NewVoyageBackend creates a Voyage AI backend
func NewVoyageBackend(opts BackendOptions) (*VoyageBackend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvVoyageAPIKey)
	}
	return &VoyageBackend{opts: opts.withDefaults(DefaultVoyageModel, DefaultVoyageURL, VoyageDimension)}, nil
}

func (v *VoyageBackend) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	reqBody := struct {
		Input           []string `json:"input"`
		Model           string   `json:"model"`
		InputType       string   `json:"input_type"`
		OutputDimension int      `json:"output_dimension,omitempty"`
	}{
		Input:           texts,
		Model:           v.opts.Model,
		InputType:       string(inputType),
		OutputDimension: v.opts.Dimension,
	}

	var resp embeddingData
	if err := httpjson.Post(ctx, v.opts.HTTPClient, v.opts.BaseURL, v.opts.APIKey, reqBody, &resp); err != nil {
		return nil, err
	}
	return resp.vectors(len(texts))
}

func (v *VoyageBackend) Name() string      { return ProviderVoyage }
func (v *VoyageBackend) Model() string     { return v.opts.Model }
func (v *VoyageBackend) Dimension() int    { return v.opts.Dimension }
func (v *VoyageBackend) MaxBatchSize() int { return VoyageMaxBatch }

func (v *VoyageBackend) Close() error {
	v.opts.HTTPClient.CloseIdleConnections()
	return nil
}

// JinaBackend calls the Jina AI embeddings API
type JinaBackend struct {
	opts BackendOptions
}

// NewJinaBackend creates a Jina AI backend
func NewJinaBackend(opts BackendOptions) (*JinaBackend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	return &JinaBackend{opts: opts.withDefaults(DefaultJinaModel, DefaultJinaURL, JinaDimension)}, nil
}

// jinaTask maps input types onto Jina's retrieval task adapters
func jinaTask(inputType InputType) string {
	if inputType == InputQuery {
		return "retrieval.query"
	}
	return "retrieval.passage"
}

func (j *JinaBackend) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	reqBody := struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Task       string   `json:"task"`
		Dimensions int      `json:"dimensions,omitempty"`
	}{
		Input:      texts,
		Model:      j.opts.Model,
		Task:       jinaTask(inputType),
		Dimensions: j.opts.Dimension,
	}

	var resp embeddingData
	if err := httpjson.Post(ctx, j.opts.HTTPClient, j.opts.BaseURL, j.opts.APIKey, reqBody, &resp); err != nil {
		return nil, err
	}
	return resp.vectors(len(texts))
}

func (j *JinaBackend) Name() string      { return ProviderJina }
func (j *JinaBackend) Model() string     { return j.opts.Model }
func (j *JinaBackend) Dimension() int    { return j.opts.Dimension }
func (j *JinaBackend) MaxBatchSize() int { return JinaMaxBatch }

func (j *JinaBackend) Close() error {
	j.opts.HTTPClient.CloseIdleConnections()
	return nil
}

// OpenAIBackend calls the OpenAI embeddings API. OpenAI models embed queries
// and documents in one space, so the input type is not sent.
type OpenAIBackend struct {
	client *openai.Client
	opts   BackendOptions
}

// NewOpenAIBackend creates an OpenAI backend
func NewOpenAIBackend(opts BackendOptions) (*OpenAIBackend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	opts = opts.withDefaults(DefaultOpenAIModel, DefaultOpenAIURL, OpenAIDimension)

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	cfg.HTTPClient = opts.HTTPClient

	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), opts: opts}, nil
}

func (o *OpenAIBackend) Embed(ctx context.Context, texts []string, _ InputType) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.opts.Model),
	}
	if o.opts.Dimension != OpenAIDimension {
		req.Dimensions = o.opts.Dimension
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, openAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrProviderFailed, len(resp.Data), len(texts))
	}

	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for k, x := range d.Embedding {
			v[k] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

// openAIError exposes the HTTP status of go-openai errors for retry classification
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: %w", &retry.StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: %w", &retry.StatusError{StatusCode: reqErr.HTTPStatusCode}, err)
	}
	return err
}

func (o *OpenAIBackend) Name() string      { return ProviderOpenAI }
func (o *OpenAIBackend) Model() string     { return o.opts.Model }
func (o *OpenAIBackend) Dimension() int    { return o.opts.Dimension }
func (o *OpenAIBackend) MaxBatchSize() int { return OpenAIMaxBatch }

func (o *OpenAIBackend) Close() error {
	o.opts.HTTPClient.CloseIdleConnections()
	return nil
}

// LocalBackend produces deterministic feature-hashing embeddings without any
// network access. Texts sharing words get similar vectors, which makes it
// usable offline and in tests. It is not a learned model.
type LocalBackend struct {
	dim int
}

// NewLocalBackend creates a feature-hashing backend with the given dimension
func NewLocalBackend(dim int) *LocalBackend {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalBackend{dim: dim}
}

func (l *LocalBackend) Embed(ctx context.Context, texts []string, _ InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(text)
	}
	return out, nil
}

func (l *LocalBackend) vector(text string) []float32 {
	v := make([]float32, l.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		v[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	return v
}

func (l *LocalBackend) Name() string      { return ProviderLocal }
func (l *LocalBackend) Model() string     { return DefaultLocalModel }
func (l *LocalBackend) Dimension() int    { return l.dim }
func (l *LocalBackend) MaxBatchSize() int { return 0 }
func (l *LocalBackend) Close() error      { return nil }
