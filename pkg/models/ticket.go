package models

import "time"

// TicketStatus is the ticket lifecycle state.
type TicketStatus string

// Ticket lifecycle states.
//
// The monitor exclusively owns open<->resolved transitions driven by
// observation. The agent exclusively owns open->diagnosed. User commands
// own the held flag and forced resolution.
const (
	TicketStatusOpen         TicketStatus = "open"
	TicketStatusAcknowledged TicketStatus = "acknowledged"
	TicketStatusDiagnosed    TicketStatus = "diagnosed"
	TicketStatusResolved     TicketStatus = "resolved"
)

// Ticket is the persistent incarnation of a violation. At most one
// non-resolved ticket exists per violation key.
type Ticket struct {
	ID            int64   `db:"id"`
	ViolationKey  string  `db:"violation_key"`
	InvariantName string  `db:"invariant_name"`
	EntityID      *string `db:"entity_id"`
	Message       string  `db:"message"`
	Severity      Severity `db:"severity"`

	FirstSeen  time.Time  `db:"first_seen"`
	LastSeen   time.Time  `db:"last_seen"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	ResolvedAt *time.Time `db:"resolved_at"`

	Status          TicketStatus `db:"status"`
	Held            bool         `db:"held"`
	OccurrenceCount int          `db:"occurrence_count"`
	BatchKey        *string      `db:"batch_key"`

	MetricSnapshot JSONMap `db:"metric_snapshot"`
	Diagnosis      *string `db:"diagnosis"`
	SubjectContext *string `db:"subject_context"`
}

// IsResolved reports whether the ticket has reached its terminal state.
func (t *Ticket) IsResolved() bool {
	return t.Status == TicketStatusResolved
}
