package assistant

import (
	"context"
)

// ScriptedProvider replays a fixed set of chunks per call, falling back to
// echoing the prompt when no script is set. It is the default provider when
// no live assistant is configured, and what the handler tests run against.
type ScriptedProvider struct {
	Chunks []string
}

func NewScriptedProvider(chunks ...string) *ScriptedProvider {
	return &ScriptedProvider{Chunks: chunks}
}

func (p *ScriptedProvider) Stream(ctx context.Context, prompt string, contextWindow map[string]any, fn ChunkFunc) error {
	chunks := p.Chunks
	if len(chunks) == 0 {
		chunks = []string{prompt}
	}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
