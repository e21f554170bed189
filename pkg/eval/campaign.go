package eval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/subject"
)

// CampaignSpec is the YAML shape for `eval run campaign <file>`. It
// expands into the subjects x chaos_types x trials matrix.
type CampaignSpec struct {
	Subjects    []string       `yaml:"subjects"`
	ChaosTypes  []string       `yaml:"chaos_types"`
	Trials      int            `yaml:"trials"`
	Baseline    bool           `yaml:"baseline"`
	Variant     string         `yaml:"variant"`
	ChaosParams map[string]any `yaml:"chaos_params"`

	Cooldown    time.Duration `yaml:"cooldown"`
	Concurrency int64         `yaml:"concurrency"`
}

// LoadCampaignSpec reads and validates a campaign YAML file.
func LoadCampaignSpec(path string) (*CampaignSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign spec: %w", err)
	}
	var spec CampaignSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse campaign spec %s: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("campaign spec %s: %w", path, err)
	}
	return &spec, nil
}

func (s *CampaignSpec) validate() error {
	if len(s.Subjects) == 0 {
		return fmt.Errorf("at least one subject is required")
	}
	if len(s.ChaosTypes) == 0 {
		return fmt.Errorf("at least one chaos type is required")
	}
	if s.Trials <= 0 {
		return fmt.Errorf("trials must be positive")
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	return nil
}

// Runner expands campaign matrices and drives trials through the harness.
type Runner struct {
	harness  *Harness
	evals    *store.EvalStore
	subjects map[string]subject.Subject
}

// NewRunner creates a campaign runner over named subjects.
func NewRunner(harness *Harness, evals *store.EvalStore, subjects map[string]subject.Subject) *Runner {
	return &Runner{harness: harness, evals: evals, subjects: subjects}
}

// RunCampaign creates one campaign row per (subject, chaos) pair and runs
// its trials. Trials share a concurrency semaphore across the whole
// matrix; a cooldown separates consecutive trials of the same campaign.
// Individual trial failures are logged and never abort the campaign.
func (r *Runner) RunCampaign(ctx context.Context, spec *CampaignSpec) ([]models.Campaign, error) {
	sem := semaphore.NewWeighted(spec.Concurrency)
	var campaigns []models.Campaign

	for _, subjectName := range spec.Subjects {
		subj, ok := r.subjects[subjectName]
		if !ok {
			return campaigns, fmt.Errorf("unknown subject %q", subjectName)
		}
		for _, chaosType := range spec.ChaosTypes {
			if !supportsChaos(subj, chaosType) {
				slog.Warn("Subject does not support chaos type, skipping",
					"subject", subjectName, "chaos_type", chaosType)
				continue
			}
			campaign, err := r.evals.CreateCampaign(ctx, &models.Campaign{
				SubjectName: subjectName,
				ChaosType:   chaosType,
				TrialCount:  spec.Trials,
				Baseline:    spec.Baseline,
				VariantName: spec.Variant,
			})
			if err != nil {
				return campaigns, err
			}
			campaigns = append(campaigns, *campaign)

			r.runTrials(ctx, sem, campaign, subj, spec)
		}
	}
	return campaigns, nil
}

// RunSingle creates and runs one campaign for a subject/chaos pair
// (`eval run --subject X --chaos Y`).
func (r *Runner) RunSingle(ctx context.Context, subjectName, chaosType string, trials int, baseline bool, chaosParams map[string]any) (*models.Campaign, error) {
	subj, ok := r.subjects[subjectName]
	if !ok {
		return nil, fmt.Errorf("unknown subject %q", subjectName)
	}
	if !supportsChaos(subj, chaosType) {
		return nil, fmt.Errorf("subject %q does not support chaos type %q", subjectName, chaosType)
	}
	campaign, err := r.evals.CreateCampaign(ctx, &models.Campaign{
		SubjectName: subjectName,
		ChaosType:   chaosType,
		TrialCount:  trials,
		Baseline:    baseline,
	})
	if err != nil {
		return nil, err
	}
	r.runTrials(ctx, semaphore.NewWeighted(1), campaign, subj, &CampaignSpec{
		Trials:      trials,
		ChaosParams: chaosParams,
	})
	return campaign, nil
}

func (r *Runner) runTrials(ctx context.Context, sem *semaphore.Weighted, campaign *models.Campaign, subj subject.Subject, spec *CampaignSpec) {
	for i := 0; i < spec.Trials; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			slog.Warn("Campaign interrupted", "campaign_id", campaign.ID, "error", err)
			return
		}
		trial, err := r.harness.RunTrial(ctx, campaign, subj, spec.ChaosParams)
		sem.Release(1)
		if err != nil {
			slog.Error("Trial failed",
				"campaign_id", campaign.ID, "trial", i+1, "error", err)
		} else {
			slog.Info("Trial complete",
				"campaign_id", campaign.ID, "trial", i+1, "trial_id", trial.ID)
		}
		if spec.Cooldown > 0 && i < spec.Trials-1 {
			select {
			case <-time.After(spec.Cooldown):
			case <-ctx.Done():
				return
			}
		}
	}
}

func supportsChaos(subj subject.Subject, chaosType string) bool {
	for _, t := range subj.ChaosTypes() {
		if t == chaosType {
			return true
		}
	}
	return false
}
