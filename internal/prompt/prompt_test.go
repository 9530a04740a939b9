package prompt

import (
	"strings"
	"testing"
)

var testPersona = Persona{Name: "Zhiwen", Owner: "Zhiwen Labs"}

func TestBuildDeterministic(t *testing.T) {
	a := New(testPersona)
	first := a.Build("Human: hi\nAssistant: hello", "some context", "what is RAG?")
	second := a.Build("Human: hi\nAssistant: hello", "some context", "what is RAG?")
	if first != second {
		t.Error("Build is not deterministic for identical inputs")
	}
}

func TestBuildSectionOrder(t *testing.T) {
	a := New(testPersona)
	got := a.Build("Human: hi", "ctx", "question?")

	identity := strings.Index(got, "Identity rules:")
	history := strings.Index(got, "Previous conversation")
	kb := strings.Index(got, "[Knowledge Base]:")
	question := strings.Index(got, "[Question]:")
	answer := strings.Index(got, "[Answer]:")

	for name, idx := range map[string]int{
		"identity": identity, "history": history, "knowledge base": kb,
		"question": question, "answer cue": answer,
	} {
		if idx < 0 {
			t.Fatalf("prompt missing %s section:\n%s", name, got)
		}
	}
	if !(identity < history && history < kb && kb < question && question < answer) {
		t.Errorf("sections out of order: identity=%d history=%d kb=%d question=%d answer=%d",
			identity, history, kb, question, answer)
	}
}

func TestBuildOmitsEmptyHistory(t *testing.T) {
	a := New(testPersona)
	got := a.Build("", "ctx", "question?")
	if strings.Contains(got, "Previous conversation") {
		t.Errorf("history section must be omitted entirely when empty:\n%s", got)
	}
}

func TestBuildKeepsEmptyContextSection(t *testing.T) {
	a := New(testPersona)
	got := a.Build("", "", "question?")
	if !strings.Contains(got, "[Knowledge Base]:") {
		t.Errorf("knowledge base section must be present even when empty:\n%s", got)
	}
}

func TestBuildIncludesPersona(t *testing.T) {
	a := New(testPersona)
	got := a.Build("", "", "q")
	if !strings.Contains(got, "Zhiwen") || !strings.Contains(got, "Zhiwen Labs") {
		t.Errorf("prompt missing persona identity:\n%s", got)
	}
}

func TestBuildEndsWithAnswerCue(t *testing.T) {
	a := New(testPersona)
	got := a.Build("h", "c", "q")
	if !strings.HasSuffix(got, "[Answer]:") {
		t.Errorf("prompt must end with the answer cue, got tail %q", got[len(got)-20:])
	}
}
