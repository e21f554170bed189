package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/subject"
)

// Gatherer assembles the diagnosis context for a ticket: the ticket
// itself, its metric snapshot, a fresh observation, similar incident
// history, and a subject log tail when available.
type Gatherer struct {
	tickets  *store.TicketStore
	observer subject.Observer
	logs     subject.LogTailer

	similarLimit int
	logLines     int
}

// NewGatherer creates a gatherer. observer and logs may be nil; the
// corresponding sections are omitted.
func NewGatherer(tickets *store.TicketStore, observer subject.Observer, logs subject.LogTailer) *Gatherer {
	return &Gatherer{
		tickets:      tickets,
		observer:     observer,
		logs:         logs,
		similarLimit: 5,
		logLines:     100,
	}
}

// Gather renders the full diagnosis context as markdown. Partial failures
// (observation, logs) degrade to a note in the output rather than failing
// the diagnosis.
func (g *Gatherer) Gather(ctx context.Context, ticket *models.Ticket) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Ticket %d: %s\n\n", ticket.ID, ticket.InvariantName)
	fmt.Fprintf(&b, "- Violation key: %s\n", ticket.ViolationKey)
	if ticket.EntityID != nil {
		fmt.Fprintf(&b, "- Entity: %s\n", *ticket.EntityID)
	}
	fmt.Fprintf(&b, "- Severity: %s\n", ticket.Severity)
	fmt.Fprintf(&b, "- Message: %s\n", ticket.Message)
	fmt.Fprintf(&b, "- First seen: %s\n", ticket.FirstSeen.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Last seen: %s\n", ticket.LastSeen.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Occurrences: %d\n", ticket.OccurrenceCount)

	if len(ticket.MetricSnapshot) > 0 {
		b.WriteString("\n## Metric snapshot at detection\n\n```json\n")
		writeJSON(&b, map[string]any(ticket.MetricSnapshot))
		b.WriteString("\n```\n")
	}

	if g.observer != nil {
		b.WriteString("\n## Current observation\n\n")
		obs, err := g.observer.Observe(ctx)
		if err != nil {
			fmt.Fprintf(&b, "observation unavailable: %v\n", err)
		} else {
			b.WriteString("```json\n")
			writeJSON(&b, map[string]any(obs))
			b.WriteString("\n```\n")
		}
	}

	similar, err := g.tickets.ListSimilar(ctx, ticket, g.similarLimit)
	if err != nil {
		return "", fmt.Errorf("gather similar tickets: %w", err)
	}
	if len(similar) > 0 {
		b.WriteString("\n## Related incident history\n\n")
		for _, s := range similar {
			fmt.Fprintf(&b, "- [%s] %s (%s, %d occurrences, last seen %s)\n",
				s.Status, s.ViolationKey, s.Severity, s.OccurrenceCount,
				s.LastSeen.Format("2006-01-02 15:04"))
		}
	}

	if g.logs != nil {
		b.WriteString("\n## Recent subject logs\n\n")
		tail, err := g.logs.LogTail(ctx, g.logLines)
		if err != nil {
			fmt.Fprintf(&b, "logs unavailable: %v\n", err)
		} else {
			b.WriteString("```\n")
			b.WriteString(tail)
			b.WriteString("\n```\n")
		}
	}

	return b.String(), nil
}

func writeJSON(b *strings.Builder, v map[string]any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "unrenderable: %v", err)
		return
	}
	b.Write(data)
}
