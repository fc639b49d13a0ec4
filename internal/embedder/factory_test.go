package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvVoyageAPIKey, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"default local", nil, ProviderLocal},
		{"explicit", map[string]string{EnvProvider: "JINA"}, ProviderJina},
		{"voyage key", map[string]string{EnvVoyageAPIKey: "v", EnvOpenAIAPIKey: "o"}, ProviderVoyage},
		{"jina key", map[string]string{EnvJinaAPIKey: "j"}, ProviderJina},
		{"openai key", map[string]string{EnvOpenAIAPIKey: "o"}, ProviderOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProviderEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNew_Providers(t *testing.T) {
	clearProviderEnv(t)

	client, err := New(Config{Provider: ProviderLocal, Dimension: 64, CacheSize: 10}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, client.Provider())
	assert.Equal(t, 64, client.Dimension())
	assert.Equal(t, DefaultLocalModel, client.Model())
	assert.NoError(t, client.Close())

	_, err = New(Config{Provider: ProviderVoyage}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = New(Config{Provider: "nope"}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	t.Setenv(EnvVoyageAPIKey, "from-env")
	client, err = New(Config{Provider: ProviderVoyage, Model: "voyage-3-large"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "voyage-3-large", client.Model())
	assert.Equal(t, VoyageDimension, client.Dimension())
}

func TestNewFromEnv(t *testing.T) {
	clearProviderEnv(t)
	client, err := NewFromEnv(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, client.Provider())
}
