// Package prompt assembles the system prompt for a turn: the first-person
// identity contract, persona directives, retrieved context grouped by
// category, and the recent conversation window.
package prompt

import (
	"fmt"
	"strings"

	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/retrieval"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

// Caps bound how many snippets each category may place in the prompt.
// Retrieval budgets bound what is fetched; these bound what is spent.
type Caps struct {
	Profile      int
	Project      int
	Document     int
	Note         int
	Conversation int
}

// DefaultCaps returns the standard per-category prompt caps.
func DefaultCaps() Caps {
	return Caps{Profile: 3, Project: 3, Document: 5, Note: 5, Conversation: 2}
}

// Input carries everything a turn's system prompt is built from.
type Input struct {
	BotName     string
	VisitorName string
	Persona     storage.Persona
	Snippets    []retrieval.Snippet
	History     []storage.Message // chronological, already windowed
}

// Assembler builds system prompts with fixed caps.
type Assembler struct {
	caps Caps
}

// NewAssembler creates an assembler with the given caps.
func NewAssembler(caps Caps) *Assembler {
	return &Assembler{caps: caps}
}

// sections maps categories to their prompt headings, in render order.
var sections = []struct {
	category string
	heading  string
}{
	{index.CategoryProfile, "About me"},
	{index.CategoryProject, "My projects"},
	{index.CategoryDocument, "From my documents"},
	{index.CategoryNote, "My notes"},
	{index.CategoryConversation, "From our earlier conversation"},
}

// Assemble renders the system prompt. The identity contract comes first so
// the model never breaks character, then persona directives, retrieved
// context, and the recent history window.
func (a *Assembler) Assemble(in Input) string {
	name := in.BotName
	if name == "" {
		name = "the assistant"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. You are not an AI assistant speaking about %s; you ARE %s.\n", name, name, name)
	b.WriteString("Always speak in the first person. Never refer to yourself in the third person, ")
	b.WriteString("never mention being an AI or a language model, and never break character.\n")
	b.WriteString("Answer only from the information below. If it does not cover the question, ")
	b.WriteString("say you don't have that information rather than inventing an answer.\n")

	a.writePersona(&b, in.Persona)
	a.writeContext(&b, in.Snippets)
	a.writeHistory(&b, in.History, in.VisitorName)

	return b.String()
}

func (a *Assembler) writePersona(b *strings.Builder, p storage.Persona) {
	directives := []struct{ label, value string }{
		{"Tone", p.Tone},
		{"Personality", p.Personality},
		{"Speaking style", p.Style},
		{"Additional instructions", p.Instructions},
	}
	any := false
	for _, d := range directives {
		if d.value == "" {
			continue
		}
		if !any {
			b.WriteString("\nHow I speak:\n")
			any = true
		}
		fmt.Fprintf(b, "- %s: %s\n", d.label, d.value)
	}
}

func (a *Assembler) writeContext(b *strings.Builder, snippets []retrieval.Snippet) {
	capFor := map[string]int{
		index.CategoryProfile:      a.caps.Profile,
		index.CategoryProject:      a.caps.Project,
		index.CategoryDocument:     a.caps.Document,
		index.CategoryNote:         a.caps.Note,
		index.CategoryConversation: a.caps.Conversation,
	}
	grouped := retrieval.ByCategory(snippets)

	for _, section := range sections {
		group := grouped[section.category]
		if len(group) == 0 {
			continue
		}
		if limit := capFor[section.category]; limit > 0 && len(group) > limit {
			group = group[:limit]
		}
		fmt.Fprintf(b, "\n%s:\n", section.heading)
		for _, s := range group {
			fmt.Fprintf(b, "- %s\n", strings.TrimSpace(s.Content))
		}
	}
}

func (a *Assembler) writeHistory(b *strings.Builder, history []storage.Message, visitorName string) {
	if len(history) == 0 {
		return
	}
	who := visitorName
	if who == "" {
		who = "Visitor"
	}
	b.WriteString("\nRecent conversation:\n")
	for _, m := range history {
		if m.Text != "" {
			fmt.Fprintf(b, "%s: %s\n", who, m.Text)
		}
		if m.Response != "" {
			fmt.Fprintf(b, "Me: %s\n", m.Response)
		}
	}
}
