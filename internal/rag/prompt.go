package rag

import (
	"fmt"
	"strings"
)

const answerInstruction = "Answer the question clearly and concisely. When the knowledge above is relevant, ground your answer in it; otherwise answer from general knowledge."

// BuildPrompt assembles the completion prompt from the user question and the
// retrieved documents. With no documents the knowledge block is omitted
// entirely rather than left as an empty section.
func BuildPrompt(question string, docs []ScoredDoc) string {
	var b strings.Builder
	if len(docs) > 0 {
		b.WriteString("Knowledge:\n")
		for _, d := range docs {
			if d.Title != "" {
				fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", d.Content)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\n%s", question, answerInstruction)
	return b.String()
}
