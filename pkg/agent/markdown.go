package agent

import (
	"fmt"
	"strings"

	"github.com/vigil-ops/vigil/pkg/llm"
)

// diagnosisErrorHeader opens the marker stored when diagnosis could not
// complete. A ticket carrying it still transitions to diagnosed so the
// agent stops retrying it; a re-fired violation resets it to open and
// clears the marker, which re-queues the diagnosis.
const diagnosisErrorHeader = "## Diagnosis unavailable"

// FormatDiagnosis renders a structured diagnosis as the markdown stored
// on the ticket.
func FormatDiagnosis(d *llm.Diagnosis) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Diagnosis\n\n**Severity:** %s\n\n", d.Severity)
	fmt.Fprintf(&b, "### Primary cause\n\n%s\n\n", d.PrimaryCause)
	fmt.Fprintf(&b, "### Evidence\n\n%s\n", d.Evidence)

	if len(d.Alternatives) > 0 {
		b.WriteString("\n### Alternative hypotheses\n\n")
		for _, a := range d.Alternatives {
			fmt.Fprintf(&b, "- %s", a.Hypothesis)
			if a.Evidence != "" {
				fmt.Fprintf(&b, " (%s)", a.Evidence)
			}
			b.WriteString("\n")
		}
	}

	if len(d.Recommendations) > 0 {
		b.WriteString("\n### Recommended actions\n\n")
		for i, r := range d.Recommendations {
			fmt.Fprintf(&b, "%d. **%s** — %s", i+1, r.ActionName, r.Reason)
			if r.ExpectedOutcome != "" {
				fmt.Fprintf(&b, " Expected: %s", r.ExpectedOutcome)
			}
			if r.Urgency != "" {
				fmt.Fprintf(&b, " (urgency: %s)", r.Urgency)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// FormatDiagnosisError renders the marker for a failed diagnosis attempt.
func FormatDiagnosisError(reason string) string {
	return fmt.Sprintf("%s\n\n%s\n", diagnosisErrorHeader, reason)
}

// IsDiagnosisError reports whether stored diagnosis markdown is an error
// marker rather than a real diagnosis.
func IsDiagnosisError(markdown string) bool {
	return strings.HasPrefix(markdown, diagnosisErrorHeader)
}
