// Package generate produces report text. The real implementation calls an
// OpenAI-compatible endpoint; every caller must be prepared for it to fail
// and substitute the deterministic fallback text instead.
package generate

import (
	"context"
	"fmt"
)

// Generator is the content-generation collaborator. Both methods may fail
// (including by timeout); callers fall back rather than propagate.
type Generator interface {
	Outline(ctx context.Context, topic string, depth int) (string, error)
	SectionContent(ctx context.Context, topic, title, guidance string, depth int) (string, error)
}

// FallbackOutline is the static outline used when the collaborator is
// unavailable.
func FallbackOutline(topic string, depth int, titles []string) string {
	out := fmt.Sprintf("Research outline for %q (depth %d/5):\n", topic, depth)
	for _, t := range titles {
		out += fmt.Sprintf("• %s\n", t)
	}
	return out
}

// FallbackSection is the deterministic placeholder persisted when section
// generation fails. It is labeled so readers can tell it apart from
// generated content.
func FallbackSection(topic, title, guidance string) string {
	return fmt.Sprintf(
		"_Fallback content: generation was unavailable for the %q section._\n\nTopic: %s\n\nIntended focus: %s\n",
		title, topic, guidance)
}
