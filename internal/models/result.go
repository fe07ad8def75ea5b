package models

// ScoredChunk is a retrieval hit: the chunk and its cosine similarity to the query.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// SearchResponse is the result of a session-scoped similarity search.
type SearchResponse struct {
	SessionID int64          `json:"session_id"`
	Query     string         `json:"query"`
	Results   []*ScoredChunk `json:"results"`
	Total     int            `json:"total"`
	QueryTime int64          `json:"query_time_ms"`
}

// Answer is a grounded reply produced from the session's documents.
type Answer struct {
	SessionID   int64          `json:"session_id"`
	MessageID   int64          `json:"message_id"`
	UserMessage string         `json:"user_message"`
	Answer      string         `json:"answer"`
	Sources     []*ScoredChunk `json:"sources"`
}
