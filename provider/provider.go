package provider

import "context"

// Unavailable is the answer returned when every completion attempt failed.
// Callers treat it as a valid, degraded answer so a conversation turn never
// aborts on an LLM outage.
const Unavailable = "AI service unavailable"

// Provider is the LLM capability surface the rest of the system depends on.
type Provider interface {
	// Embed converts text into a fixed-dimension vector. A single attempt is
	// made; a non-nil error means no embedding is available and the caller
	// decides whether to abort or degrade.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Complete returns a cleaned chat completion for the prompt. Identical
	// prompts are served from a memo cache. Provider outages surface as the
	// Unavailable sentinel with a nil error.
	Complete(ctx context.Context, prompt string) (string, error)
}
