package chat

import (
	"fmt"
	"strings"

	"github.com/hyperjump/bunsho/internal/models"
)

// NoDocumentsContext replaces the context block when retrieval found nothing.
const NoDocumentsContext = "No relevant documents were found in this session."

// BuildPrompt renders the grounding prompt for message. Each source is cited by
// file name as "[From <file>]: <text>", separated by blank lines.
func BuildPrompt(message string, sources []*models.ScoredChunk) string {
	context := NoDocumentsContext
	if len(sources) > 0 {
		blocks := make([]string, 0, len(sources))
		for _, s := range sources {
			name := s.Chunk.FileName
			if name == "" {
				name = "unknown"
			}
			blocks = append(blocks, fmt.Sprintf("[From %s]: %s", name, s.Chunk.Text))
		}
		context = strings.Join(blocks, "\n\n")
	}

	var b strings.Builder
	b.WriteString("User asks:\n")
	b.WriteString(message)
	b.WriteString("\n\nFrom the following documents (with file names shown):\n")
	b.WriteString(context)
	b.WriteString(`

Instructions:
- Mention the file name when citing information.
- Give a short but complete answer (concise, clear, not too long).
- Reply in the user's language.
- Only use the provided documents; do not add outside info.
- If nothing is relevant, reply: "No information found in the documents."
`)
	return b.String()
}
