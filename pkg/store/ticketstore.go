// Package store implements the persistent stores for tickets, actions,
// audit events, and eval records over SQLite. Stores are the only
// synchronization point between the monitor and agent daemons: the monitor
// is the sole writer of tick-driven ticket transitions, the agent the sole
// writer of diagnoses, the dispatcher the sole writer of proposal status.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/models"
)

// TicketStore persists tickets with deduplication and auto-resolution.
type TicketStore struct {
	db *database.Client
}

// NewTicketStore creates a ticket store over an open tickets database.
func NewTicketStore(db *database.Client) *TicketStore {
	return &TicketStore{db: db}
}

// CreateOrUpdate reconciles one violation into the ticket table. If an
// open (non-resolved) ticket with a matching violation key exists, its
// last_seen, occurrence_count, and message are updated; a diagnosed
// ticket that re-fires reverts to open with diagnosis and hold cleared.
// Otherwise a new ticket is inserted with first_seen from the violation.
func (s *TicketStore) CreateOrUpdate(ctx context.Context, v models.Violation, snapshot models.JSONMap, batchKey string) (*models.Ticket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	key := v.Key()

	var existing models.Ticket
	err = tx.GetContext(ctx, &existing,
		`SELECT * FROM tickets WHERE violation_key = ? AND status != ? LIMIT 1`,
		key, models.TicketStatusResolved)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE tickets SET
				last_seen = ?,
				message = ?,
				occurrence_count = occurrence_count + 1,
				batch_key = ?,
				updated_at = ?,
				status = CASE WHEN status = 'diagnosed' THEN 'open' ELSE status END,
				diagnosis = CASE WHEN status = 'diagnosed' THEN NULL ELSE diagnosis END,
				held = CASE WHEN status = 'diagnosed' THEN 0 ELSE held END
			WHERE id = ?`,
			v.LastSeen.UTC(), v.Message, batchKey, now, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("update ticket %d: %w", existing.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return s.Get(ctx, existing.ID)

	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (
				violation_key, invariant_name, entity_id, message, severity,
				first_seen, last_seen, created_at, updated_at,
				status, held, occurrence_count, batch_key, metric_snapshot
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', 0, 1, ?, ?)`,
			key, v.InvariantName, v.EntityID, v.Message, v.Severity,
			v.FirstSeen.UTC(), v.LastSeen.UTC(), now, now, batchKey, snapshot)
		if err != nil {
			return nil, fmt.Errorf("insert ticket for %s: %w", key, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return s.Get(ctx, id)

	default:
		return nil, fmt.Errorf("query open ticket for %s: %w", key, err)
	}
}

// Get returns the ticket by id.
func (s *TicketStore) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tickets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	return &t, nil
}

// List returns tickets, optionally filtered by status, newest first.
func (s *TicketStore) List(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	var tickets []models.Ticket
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &tickets,
			`SELECT * FROM tickets ORDER BY created_at DESC, id DESC`)
	} else {
		err = s.db.SelectContext(ctx, &tickets,
			`SELECT * FROM tickets WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// Resolve marks the ticket resolved. Held tickets cannot be resolved.
func (s *TicketStore) Resolve(ctx context.Context, id int64) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Held {
		return ErrTicketHeld
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		models.TicketStatusResolved, now, now, id)
	if err != nil {
		return fmt.Errorf("resolve ticket %d: %w", id, err)
	}
	return nil
}

// Hold sets the held flag, preventing auto-resolution.
func (s *TicketStore) Hold(ctx context.Context, id int64) error {
	return s.setHeld(ctx, id, true)
}

// Unhold clears the held flag.
func (s *TicketStore) Unhold(ctx context.Context, id int64) error {
	return s.setHeld(ctx, id, false)
}

func (s *TicketStore) setHeld(ctx context.Context, id int64, held bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET held = ?, updated_at = ? WHERE id = ?`,
		held, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set held on ticket %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDiagnosis persists the diagnosis markdown and transitions the
// ticket to diagnosed.
func (s *TicketStore) UpdateDiagnosis(ctx context.Context, id int64, markdown string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET diagnosis = ?, status = ?, updated_at = ? WHERE id = ?`,
		markdown, models.TicketStatusDiagnosed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update diagnosis on ticket %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AutoResolveCleared resolves every non-held, non-resolved ticket whose
// violation key is not in currentKeys. Returns the number resolved.
func (s *TicketStore) AutoResolveCleared(ctx context.Context, currentKeys map[string]struct{}) (int64, error) {
	type row struct {
		ID  int64  `db:"id"`
		Key string `db:"violation_key"`
	}
	var candidates []row
	err := s.db.SelectContext(ctx, &candidates,
		`SELECT id, violation_key FROM tickets WHERE status != ? AND held = 0`,
		models.TicketStatusResolved)
	if err != nil {
		return 0, fmt.Errorf("query auto-resolve candidates: %w", err)
	}

	var ids []int64
	for _, c := range candidates {
		if _, active := currentKeys[c.Key]; !active {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	query, args, err := sqlx.In(
		`UPDATE tickets SET status = 'resolved', resolved_at = ?, updated_at = ? WHERE id IN (?)`,
		now, now, ids)
	if err != nil {
		return 0, fmt.Errorf("build auto-resolve query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("auto-resolve tickets: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListSimilar returns recent past tickets for the same invariant (and
// entity, when scoped), excluding the ticket itself. Used by the context
// gatherer to surface incident history to the diagnosis.
func (s *TicketStore) ListSimilar(ctx context.Context, ticket *models.Ticket, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	var err error
	if ticket.EntityID != nil {
		err = s.db.SelectContext(ctx, &tickets, `
			SELECT * FROM tickets
			WHERE id != ? AND (invariant_name = ? OR entity_id = ?)
			ORDER BY last_seen DESC LIMIT ?`,
			ticket.ID, ticket.InvariantName, *ticket.EntityID, limit)
	} else {
		err = s.db.SelectContext(ctx, &tickets, `
			SELECT * FROM tickets
			WHERE id != ? AND invariant_name = ?
			ORDER BY last_seen DESC LIMIT ?`,
			ticket.ID, ticket.InvariantName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list similar tickets: %w", err)
	}
	return tickets, nil
}

// FirstCreatedAfter returns the earliest ticket created at or after t,
// or ErrNotFound. Used by the eval harness to detect chaos pickup.
func (s *TicketStore) FirstCreatedAfter(ctx context.Context, t time.Time) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket,
		`SELECT * FROM tickets WHERE created_at >= ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		t.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query first ticket after %s: %w", t, err)
	}
	return &ticket, nil
}
