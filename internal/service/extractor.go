package service

import (
	"context"
	"strings"
	"time"
)

// LocalExtractor is the in-process Extractor used until an external
// analysis pipeline is attached. It derives coarse topics from the document
// source string so downstream consumers have something to key on.
type LocalExtractor struct{}

func NewLocalExtractor() *LocalExtractor {
	return &LocalExtractor{}
}

func (e *LocalExtractor) Extract(ctx context.Context, documentID, source string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topics := []string{}
	for _, tok := range strings.FieldsFunc(source, func(r rune) bool {
		return r == '/' || r == '.' || r == '_' || r == '-' || r == ' '
	}) {
		tok = strings.ToLower(tok)
		if len(tok) > 3 {
			topics = append(topics, tok)
		}
	}

	return map[string]any{
		"document_id":  documentID,
		"topics":       topics,
		"extracted_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
