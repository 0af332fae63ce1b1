package generate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"briefline/internal/generate"
)

func TestFallbackOutlineListsTitles(t *testing.T) {
	out := generate.FallbackOutline("Ransomware trends", 3, []string{"Executive Summary", "References"})
	if !strings.Contains(out, `"Ransomware trends"`) || !strings.Contains(out, "depth 3/5") {
		t.Fatalf("outline header missing: %q", out)
	}
	for _, title := range []string{"Executive Summary", "References"} {
		if !strings.Contains(out, title) {
			t.Errorf("outline missing title %q", title)
		}
	}
}

func TestFallbackSectionIsLabeled(t *testing.T) {
	out := generate.FallbackSection("Ransomware trends", "Detailed Analysis", "Technical deep dive")
	if !strings.Contains(out, "Fallback content") {
		t.Fatalf("fallback not labeled: %q", out)
	}
	if strings.Contains(out, "##") {
		t.Fatalf("fallback must not carry its own heading: %q", out)
	}
	if !strings.Contains(out, "Ransomware trends") || !strings.Contains(out, "Technical deep dive") {
		t.Fatalf("fallback missing topic or guidance: %q", out)
	}
}

func TestStaticGeneratorNeverFails(t *testing.T) {
	ctx := context.Background()
	var gen generate.Static

	outline, err := gen.Outline(ctx, "Ransomware trends", 2)
	if err != nil {
		t.Fatalf("outline: %v", err)
	}
	if outline == "" {
		t.Fatal("empty outline")
	}

	content, err := gen.SectionContent(ctx, "Ransomware trends", "References", "Sources", 2)
	if err != nil {
		t.Fatalf("section content: %v", err)
	}
	for _, want := range []string{"References", "Ransomware trends", "Sources", "2/5"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q: %q", want, content)
		}
	}
}

func TestCitationListMentionsTopicAndTitle(t *testing.T) {
	out := generate.CitationList("Ransomware trends", "Detailed Analysis")
	if !strings.Contains(out, "Ransomware trends") || !strings.Contains(out, "Detailed Analysis") {
		t.Fatalf("citations missing topic or title: %q", out)
	}
	if !strings.HasPrefix(out, "- ") {
		t.Fatalf("citations not a markdown list: %q", out)
	}
	if out != generate.CitationList("Ransomware trends", "Detailed Analysis") {
		t.Fatal("citation list not deterministic")
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := generate.NewOpenAI(generate.OpenAIOptions{}); !errors.Is(err, generate.ErrAPIKeyNotSet) {
		t.Fatalf("err = %v, want ErrAPIKeyNotSet", err)
	}
	gen, err := generate.NewOpenAI(generate.OpenAIOptions{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("new with key: %v", err)
	}
	if gen == nil {
		t.Fatal("nil generator")
	}
}
