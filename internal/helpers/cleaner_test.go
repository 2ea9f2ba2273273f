package helpers

import "testing"

func TestCleanResponse_StripsMarkdown(t *testing.T) {
	input := `**Hello** [link](http://x)\n- item`
	got := CleanResponse(input)
	want := "Hello link item"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanResponse_RemovesHeadingsAndRules(t *testing.T) {
	input := "### Summary\n---\nPoint one"
	got := CleanResponse(input)
	want := "Summary Point one"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanResponse_UnescapesQuotes(t *testing.T) {
	input := `He said \"hi\"   there`
	got := CleanResponse(input)
	want := `He said "hi" there`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanResponse_Empty(t *testing.T) {
	if got := CleanResponse(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
