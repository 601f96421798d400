package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/retrieval"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

func TestAssembleIdentityContract(t *testing.T) {
	a := NewAssembler(DefaultCaps())
	got := a.Assemble(Input{BotName: "Ada"})

	for _, want := range []string{
		"You are Ada.",
		"you ARE Ada",
		"first person",
		"never break character",
		"don't have that information",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestAssemblePersonaDirectives(t *testing.T) {
	a := NewAssembler(DefaultCaps())
	got := a.Assemble(Input{
		BotName: "Ada",
		Persona: storage.Persona{
			Tone:        "warm",
			Style:       "concise",
			Personality: "",
		},
	})

	if !strings.Contains(got, "- Tone: warm") {
		t.Errorf("prompt missing tone directive:\n%s", got)
	}
	if !strings.Contains(got, "- Speaking style: concise") {
		t.Errorf("prompt missing style directive:\n%s", got)
	}
	if strings.Contains(got, "Personality") {
		t.Errorf("prompt includes empty personality directive:\n%s", got)
	}

	// No persona set: the section is omitted entirely.
	bare := a.Assemble(Input{BotName: "Ada"})
	if strings.Contains(bare, "How I speak") {
		t.Errorf("prompt includes persona section without directives:\n%s", bare)
	}
}

func TestAssembleContextSectionsAndCaps(t *testing.T) {
	a := NewAssembler(Caps{Profile: 2, Note: 5, Conversation: 1})

	var snippets []retrieval.Snippet
	for i := 0; i < 4; i++ {
		snippets = append(snippets, retrieval.Snippet{
			Category: index.CategoryProfile,
			Content:  fmt.Sprintf("profile fact %d", i),
		})
	}
	snippets = append(snippets,
		retrieval.Snippet{Category: index.CategoryNote, Content: "a note"},
		retrieval.Snippet{Category: index.CategoryConversation, Content: "User: hi\nAI: hello"},
		retrieval.Snippet{Category: index.CategoryConversation, Content: "User: bye\nAI: bye"},
	)

	got := a.Assemble(Input{BotName: "Ada", Snippets: snippets})

	if !strings.Contains(got, "About me:") || !strings.Contains(got, "My notes:") {
		t.Fatalf("prompt missing context headings:\n%s", got)
	}
	// Profile capped at 2 of the 4 retrieved.
	if !strings.Contains(got, "profile fact 0") || !strings.Contains(got, "profile fact 1") {
		t.Errorf("prompt missing capped profile facts:\n%s", got)
	}
	if strings.Contains(got, "profile fact 2") {
		t.Errorf("prompt exceeded profile cap:\n%s", got)
	}
	// Conversation capped at 1.
	if strings.Count(got, "User: ") != 1 {
		t.Errorf("prompt conversation cap not applied:\n%s", got)
	}
	// Empty categories render no heading.
	if strings.Contains(got, "My projects:") {
		t.Errorf("prompt includes empty project section:\n%s", got)
	}
}

func TestAssembleHistoryWindow(t *testing.T) {
	a := NewAssembler(DefaultCaps())
	got := a.Assemble(Input{
		BotName:     "Ada",
		VisitorName: "Grace",
		History: []storage.Message{
			{Text: "what do you do", Response: "I build compilers"},
			{Text: "since when", Response: "since 1843"},
		},
	})

	if !strings.Contains(got, "Recent conversation:") {
		t.Fatalf("prompt missing history section:\n%s", got)
	}
	if !strings.Contains(got, "Grace: what do you do") {
		t.Errorf("prompt missing visitor line:\n%s", got)
	}
	if !strings.Contains(got, "Me: I build compilers") {
		t.Errorf("prompt missing assistant line:\n%s", got)
	}
	// Chronological order preserved.
	if strings.Index(got, "what do you do") > strings.Index(got, "since when") {
		t.Errorf("history out of order:\n%s", got)
	}

	// Unnamed visitors get a neutral label.
	anon := a.Assemble(Input{
		BotName: "Ada",
		History: []storage.Message{{Text: "hello", Response: "hi"}},
	})
	if !strings.Contains(anon, "Visitor: hello") {
		t.Errorf("prompt missing neutral visitor label:\n%s", anon)
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	a := NewAssembler(DefaultCaps())
	got := a.Assemble(Input{})
	if !strings.Contains(got, "You are the assistant.") {
		t.Errorf("prompt missing fallback name:\n%s", got)
	}
	if strings.Contains(got, "Recent conversation:") {
		t.Errorf("prompt includes empty history section:\n%s", got)
	}
}
