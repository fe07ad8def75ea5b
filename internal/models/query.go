package models

import (
	"fmt"
	"strings"
)

// SearchQuery is a session-scoped similarity search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate trims the query and caps TopK. A zero TopK is left for the retriever to default.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.TopK < 0 {
		q.TopK = 0
	}
	if q.TopK > 100 {
		q.TopK = 100
	}
	return nil
}

// ProcessRequest asks for a grounded answer to a user message.
type ProcessRequest struct {
	UserMessage string `json:"user_message"`
}

// Validate rejects blank messages.
func (p *ProcessRequest) Validate() error {
	p.UserMessage = strings.TrimSpace(p.UserMessage)
	if p.UserMessage == "" {
		return fmt.Errorf("%w: user_message cannot be empty", ErrInvalidInput)
	}
	return nil
}
