// Package prompt deterministically composes persona rules, conversation
// history, retrieved context, and the user question into a single prompt.
//
// Build is pure: identical inputs always yield byte-identical output, which
// the tests and any caller-side caching depend on.
package prompt

import (
	"fmt"
	"strings"
)

// Persona identifies the assistant in the prompt's identity rules.
type Persona struct {
	Name  string // assistant display name
	Owner string // developing organization
}

// Assembler builds prompts for a fixed persona.
type Assembler struct {
	persona Persona
}

// New creates an Assembler for the given persona.
func New(persona Persona) *Assembler {
	return &Assembler{persona: persona}
}

// Build renders the prompt. Section order is fixed: identity rules, optional
// history (omitted entirely when historyText is empty), knowledge context
// (always present — it anchors grounding even when empty), question, answer
// cue.
func (a *Assembler) Build(historyText, retrievedText, question string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %q, a professional and friendly AI assistant developed by %s.\n\n",
		a.persona.Name, a.persona.Owner)

	b.WriteString("Identity rules:\n")
	fmt.Fprintf(&b, "- Your name is: %s\n", a.persona.Name)
	fmt.Fprintf(&b, "- Your developer is: %s\n", a.persona.Owner)
	b.WriteString("- When asked about your identity, answer with the information above.\n\n")

	b.WriteString("Answer rules:\n")
	b.WriteString("1. Answer the question based on the [Knowledge Base] section.\n")
	b.WriteString("2. If the knowledge base has no relevant information, honestly say you don't know enough about the question.\n")
	b.WriteString("3. Keep a friendly, professional tone.\n")
	b.WriteString("4. Keep answers clear and concise.\n")

	if historyText != "" {
		b.WriteString("\nPrevious conversation (for context):\n")
		b.WriteString(historyText)
		b.WriteString("\n")
	}

	b.WriteString("\n[Knowledge Base]:\n")
	b.WriteString(retrievedText)
	b.WriteString("\n\n[Question]: ")
	b.WriteString(question)
	b.WriteString("\n\n[Answer]:")

	return b.String()
}
