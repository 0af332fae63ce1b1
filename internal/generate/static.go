package generate

import (
	"context"
	"fmt"

	"briefline/internal/domain"
)

// Static is an offline Generator. It produces deterministic simulated
// content and never fails, for workspaces without an API key and for
// tests that exercise the success path.
type Static struct{}

func (Static) Outline(_ context.Context, topic string, depth int) (string, error) {
	var titles []string
	for _, p := range domain.DefaultPlan() {
		titles = append(titles, p.Title)
	}
	return FallbackOutline(topic, depth, titles), nil
}

func (Static) SectionContent(_ context.Context, topic, title, guidance string, depth int) (string, error) {
	return fmt.Sprintf(
		"Simulated research content for the %q section.\n\nTopic: %s\n\nFocus: %s\n\nDepth: %d/5.\n",
		title, topic, guidance, depth), nil
}
