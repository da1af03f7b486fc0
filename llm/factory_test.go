package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderType(t *testing.T) {
	tests := map[string]ProviderType{
		"openai":    ProviderOpenAI,
		"GPT":       ProviderOpenAI,
		"anthropic": ProviderAnthropic,
		"claude":    ProviderAnthropic,
		"deepseek":  ProviderDeepSeek,
		" Gemini ":  ProviderGemini,
		"google":    ProviderGemini,
	}
	for in, want := range tests {
		got, err := ParseProviderType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProviderType("ollama")
	assert.Error(t, err)
}

func TestProviderTypeDefaults(t *testing.T) {
	for _, p := range []ProviderType{ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGemini} {
		assert.NotEmpty(t, p.DefaultModel(), p.String())
		assert.NotEmpty(t, p.EnvVar(), p.String())
	}
	assert.Equal(t, "unknown", ProviderType(99).String())
}

func TestFromEnvRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := ProviderOpenAI.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestBuilderAppliesSettings(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	p, err := ProviderDeepSeek.Model(ModelDeepSeekReasoner).MaxTokens(1024).Temperature(0).FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
	assert.Equal(t, ModelDeepSeekReasoner, p.Model())

	op := p.(*OpenAIProvider)
	assert.Equal(t, 1024, op.maxTokens)
	assert.Equal(t, float32(0), op.temperature)
}

func TestBuilderDefaults(t *testing.T) {
	p, err := ProviderAnthropic.APIKey("sk-ant-test")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, ModelAnthropicClaudeSonnet4, p.Model())

	ap := p.(*AnthropicProvider)
	assert.Equal(t, int64(defaultMaxTokens), ap.maxTokens)
	assert.InDelta(t, 0.7, ap.temperature, 1e-6)
}

func TestBuilderBaseURLForOpenAI(t *testing.T) {
	p, err := ProviderOpenAI.Model("llama3").BaseURL("http://localhost:8080/v1").APIKey("none")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "llama3", p.Model())
}
