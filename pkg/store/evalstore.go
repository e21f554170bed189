package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/models"
)

// EvalStore persists campaigns and trials. Rows are immutable after insert.
type EvalStore struct {
	db *database.Client
}

// NewEvalStore creates an eval store over an open eval database.
func NewEvalStore(db *database.Client) *EvalStore {
	return &EvalStore{db: db}
}

// CreateCampaign inserts a campaign row.
func (s *EvalStore) CreateCampaign(ctx context.Context, c *models.Campaign) (*models.Campaign, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (subject_name, chaos_type, trial_count, baseline, variant_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.SubjectName, c.ChaosType, c.TrialCount, c.Baseline, c.VariantName, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetCampaign(ctx, id)
}

// GetCampaign returns the campaign by id.
func (s *EvalStore) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.GetContext(ctx, &c, `SELECT * FROM campaigns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *EvalStore) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.SelectContext(ctx, &campaigns,
		`SELECT * FROM campaigns ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// ListCampaignsBySubject returns campaigns for one subject/chaos pair,
// newest first. Used by variant comparisons.
func (s *EvalStore) ListCampaignsBySubject(ctx context.Context, subjectName, chaosType string) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.SelectContext(ctx, &campaigns, `
		SELECT * FROM campaigns WHERE subject_name = ? AND chaos_type = ?
		ORDER BY created_at DESC, id DESC`, subjectName, chaosType)
	if err != nil {
		return nil, fmt.Errorf("list campaigns for %s/%s: %w", subjectName, chaosType, err)
	}
	return campaigns, nil
}

// CreateTrial inserts a trial row.
func (s *EvalStore) CreateTrial(ctx context.Context, t *models.Trial) (*models.Trial, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trials (
			campaign_id, started_at, chaos_injected_at, ticket_created_at,
			resolved_at, ended_at, initial_state, final_state, chaos_metadata, commands_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CampaignID, t.StartedAt.UTC(), t.ChaosInjectedAt.UTC(), t.TicketCreatedAt,
		t.ResolvedAt, t.EndedAt.UTC(), t.InitialState, t.FinalState, t.ChaosMetadata, t.CommandsJSON)
	if err != nil {
		return nil, fmt.Errorf("insert trial: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetTrial(ctx, id)
}

// GetTrial returns the trial by id.
func (s *EvalStore) GetTrial(ctx context.Context, id int64) (*models.Trial, error) {
	var t models.Trial
	err := s.db.GetContext(ctx, &t, `SELECT * FROM trials WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trial %d: %w", id, err)
	}
	return &t, nil
}

// ListTrials returns the campaign's trials, oldest first.
func (s *EvalStore) ListTrials(ctx context.Context, campaignID int64) ([]models.Trial, error) {
	var trials []models.Trial
	err := s.db.SelectContext(ctx, &trials,
		`SELECT * FROM trials WHERE campaign_id = ? ORDER BY started_at ASC, id ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list trials for campaign %d: %w", campaignID, err)
	}
	return trials, nil
}
