package rewrite

import (
	"strings"
	"testing"
)

func TestBuildRewritePromptDeterministic(t *testing.T) {
	content := testContent("hero/title", "hero/copy")
	a := BuildRewritePrompt(content, "finance")
	b := BuildRewritePrompt(content, "finance")
	if a != b {
		t.Fatal("same input produced different prompts")
	}
	if a == BuildRewritePrompt(content, "healthcare") {
		t.Fatal("segment not reflected in prompt")
	}
}

func TestBuildRewritePromptListsFieldNames(t *testing.T) {
	content := testContent("hero/title", "cta/copy")
	prompt := BuildRewritePrompt(content, "finance")
	for _, name := range content.FieldNames() {
		if !strings.Contains(prompt, name) {
			t.Fatalf("prompt missing field name %q", name)
		}
	}
	if !strings.Contains(prompt, "finance") {
		t.Fatal("prompt missing segment label")
	}
}

func TestPlainText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain value", "plain value"},
		{"<p>Hello <strong>world</strong></p>", "Hello world"},
		{"<div><p>one</p>\n<p>two</p></div>", "one two"},
		{"  padded  ", "padded"},
	}
	for _, c := range cases {
		if got := PlainText(c.in); got != c.want {
			t.Fatalf("PlainText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractFirstJSON(t *testing.T) {
	raw := `prefix {"fields": {"a": "b } c"}} suffix {"other": 1}`
	got := ExtractFirstJSON(raw)
	if got != `{"fields": {"a": "b } c"}}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestFieldNamesOrder(t *testing.T) {
	content := testContent("z/copy", "a/copy", "m/copy")
	names := content.FieldNames()
	if names[0] != "z/copy" || names[1] != "a/copy" || names[2] != "m/copy" {
		t.Fatalf("field order not preserved: %v", names)
	}
}
