// Package cli renders bunsho results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	score   = color.New(color.FgGreen).SprintFunc()
	dim     = color.New(color.FgHiBlack).SprintFunc()
)

const rule = "─────────────────────────────────────────────────────────"

// WriteSearchResults writes a retrieval response to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s#%d\t%s\n", r.Rank, r.Score, sourceName(r.Chunk), r.Chunk.ChunkIndex,
				TruncateWords(strings.Join(strings.Fields(r.Chunk.Text), " "), 20))
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d results in %dms for %q\n\n", response.Total, response.QueryTime, response.Query)
		for _, r := range response.Results {
			writeChunk(w, r)
		}
		return nil
	}
}

func writeChunk(w io.Writer, r *models.ScoredChunk) {
	fmt.Fprintln(w, dim(rule))
	fmt.Fprintf(w, "%s Score: %s | %s (chunk %d)\n",
		heading(fmt.Sprintf("Rank: %d", r.Rank)), score(fmt.Sprintf("%.4f", r.Score)), sourceName(r.Chunk), r.Chunk.ChunkIndex)
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Chunk.Text, 200))
}

// WriteAnswer writes a completion answer and the chunks it was grounded on.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	fmt.Fprintf(w, "%s\n%s\n", heading("Answer:"), answer.Answer)
	if len(answer.Sources) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%s\n", heading("Sources:"))
	for _, src := range answer.Sources {
		fmt.Fprintf(w, "  [%d] %s (chunk %d) %s\n",
			src.Rank, sourceName(src.Chunk), src.Chunk.ChunkIndex, score(fmt.Sprintf("%.4f", src.Score)))
	}
	return nil
}

// WriteSessions lists chat sessions, newest activity first as returned by the store.
func WriteSessions(w io.Writer, sessions []*models.ChatSession, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", heading(fmt.Sprint(s.ID)), s.Title, dim(s.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sourceName(c *models.Chunk) string {
	if c.FileName == "" {
		return "unknown"
	}
	return c.FileName
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
