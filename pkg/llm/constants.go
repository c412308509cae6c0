package llm

// Normalized stop reasons. Providers map their native values onto these.
const (
	StopReasonStop   = "stop"   // Normal completion
	StopReasonLength = "length" // Output truncated due to token limit
)

// Provider option keys shared by every provider group.
const (
	OptionDebug          = "debug"
	OptionTemperature    = "temperature"
	OptionMaxTokens      = "max_tokens"
	OptionThinkingEffort = "thinking_effort"
)
