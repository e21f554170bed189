package models

import "time"

// Campaign groups a set of chaos trials against one subject/chaos pair.
// Immutable after insert.
type Campaign struct {
	ID          int64     `db:"id"`
	SubjectName string    `db:"subject_name"`
	ChaosType   string    `db:"chaos_type"`
	TrialCount  int       `db:"trial_count"`
	Baseline    bool      `db:"baseline"`
	VariantName string    `db:"variant_name"`
	CreatedAt   time.Time `db:"created_at"`
}

// Trial records one chaos experiment: timestamps for injection, detection,
// and resolution, plus opaque state snapshots and the commands the agent
// executed during the window. Immutable after insert.
type Trial struct {
	ID              int64      `db:"id"`
	CampaignID      int64      `db:"campaign_id"`
	StartedAt       time.Time  `db:"started_at"`
	ChaosInjectedAt time.Time  `db:"chaos_injected_at"`
	TicketCreatedAt *time.Time `db:"ticket_created_at"`
	ResolvedAt      *time.Time `db:"resolved_at"`
	EndedAt         time.Time  `db:"ended_at"`
	InitialState    JSONMap    `db:"initial_state"`
	FinalState      JSONMap    `db:"final_state"`
	ChaosMetadata   JSONMap    `db:"chaos_metadata"`
	CommandsJSON    *string    `db:"commands_json"`
}

// TrialCommand is one agent-executed command captured from the audit log
// during a trial window, serialized into Trial.CommandsJSON.
type TrialCommand struct {
	ActionName string         `json:"action_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	At         time.Time      `json:"at"`
}
