package config

import "os"

// Completion providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// APIKeyEnv names the environment variable holding a provider's key.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderClaude:
		return "ANTHROPIC_API_KEY"
	default:
		return "GROQ_API_KEY"
	}
}

// ResolveAPIKey reads the provider's key from the environment. Gemini also
// accepts GOOGLE_API_KEY.
func ResolveAPIKey(provider string) string {
	if key := os.Getenv(APIKeyEnv(provider)); key != "" {
		return key
	}
	if provider == ProviderGemini {
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}
