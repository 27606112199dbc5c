package llm

import "os"

// envProviders is the probe order used by FromEnv.
var envProviders = []struct {
	provider Provider
	keyVar   string
	model    string
}{
	{OpenAI, "OPENAI_API_KEY", "gpt-4o-mini"},
	{Claude, "ANTHROPIC_API_KEY", "claude-3-5-haiku-20241022"},
	{Gemini, "GEMINI_API_KEY", "gemini-2.0-flash"},
	{Grok, "XAI_API_KEY", "grok-3-mini"},
}

// FromEnv fills in a provider and key from the conventional vendor variables
// when cfg does not name a usable one. A configured provider without a key
// picks up only its own variable. Ollama needs no key and is left alone.
func FromEnv(cfg Config) Config {
	if cfg.Provider == Ollama || cfg.APIKey != "" {
		return cfg
	}
	for _, p := range envProviders {
		if cfg.Provider != "" && cfg.Provider != p.provider {
			continue
		}
		key := os.Getenv(p.keyVar)
		if key == "" {
			continue
		}
		if cfg.Provider == "" {
			cfg.Model = ""
		}
		cfg.Provider = p.provider
		cfg.APIKey = key
		if cfg.Model == "" {
			cfg.Model = p.model
		}
		return cfg
	}
	return cfg
}
