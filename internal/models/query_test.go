package models

import (
	"errors"
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name     string
		query    *SearchQuery
		wantErr  bool
		wantTopK int
	}{
		{"empty query", &SearchQuery{Query: ""}, true, 0},
		{"whitespace query", &SearchQuery{Query: "   "}, true, 0},
		{"valid query", &SearchQuery{Query: "hello", TopK: 5}, false, 5},
		{"zero top_k left for default", &SearchQuery{Query: "x"}, false, 0},
		{"negative top_k cleared", &SearchQuery{Query: "x", TopK: -3}, false, 0},
		{"caps top_k at 100", &SearchQuery{Query: "x", TopK: 200}, false, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("error should wrap ErrInvalidInput, got %v", err)
				}
				return
			}
			if tt.query.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.query.TopK, tt.wantTopK)
			}
		})
	}
}

func TestProcessRequest_Validate(t *testing.T) {
	p := &ProcessRequest{UserMessage: "  what is in the report?  "}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.UserMessage != "what is in the report?" {
		t.Errorf("message not trimmed: %q", p.UserMessage)
	}
	if err := (&ProcessRequest{}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty message: got %v", err)
	}
}
