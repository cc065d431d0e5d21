// Package assistant abstracts the external AI collaborator the gateway
// streams prompts to. The gateway treats it as opaque and potentially slow;
// concrete network providers live outside this repo.
package assistant

import "context"

// ChunkFunc receives one chunk of a streamed reply. Returning an error
// aborts the stream (the gateway uses this to propagate cancellation).
type ChunkFunc func(chunk string) error

// Provider streams a reply to a research prompt, chunk by chunk.
// contextWindow carries the session state summary built by the gateway.
type Provider interface {
	Stream(ctx context.Context, prompt string, contextWindow map[string]any, fn ChunkFunc) error
}
