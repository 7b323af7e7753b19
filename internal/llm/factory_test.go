package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	t.Parallel()

	t.Run("openai", func(t *testing.T) {
		gen, err := NewGenerator(FactoryConfig{
			Provider:   "openai",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
			OpenAI:     OpenAIConfig{APIKey: "sk-test-key", Model: "gpt-4o"},
		})
		require.NoError(t, err)
		require.NotNil(t, gen)
		assert.Equal(t, "openai", gen.Provider())
		assert.Equal(t, "gpt-4o", gen.Model())
		assert.Equal(t, 10*time.Millisecond, gen.(*OpenAIProvider).retryDelay)
	})

	t.Run("anthropic is case insensitive", func(t *testing.T) {
		gen, err := NewGenerator(FactoryConfig{
			Provider:  "Anthropic",
			Anthropic: AnthropicConfig{APIKey: "sk-ant-test-key"},
		})
		require.NoError(t, err)
		require.NotNil(t, gen)
		assert.Equal(t, "anthropic", gen.Provider())
		assert.Equal(t, defaultAnthropicModel, gen.Model())
	})

	t.Run("none disables generation", func(t *testing.T) {
		for _, provider := range []string{"", "none"} {
			gen, err := NewGenerator(FactoryConfig{Provider: provider})
			require.NoError(t, err)
			assert.Nil(t, gen)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		gen, err := NewGenerator(FactoryConfig{Provider: "gemini"})
		require.Error(t, err)
		assert.Nil(t, gen)
		assert.Contains(t, err.Error(), `unsupported LLM provider: "gemini"`)
	})
}
