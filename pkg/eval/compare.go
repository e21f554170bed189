package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/store"
)

// Comparison pairs two campaign summaries with their deltas. Positive
// deltas mean B did better (higher win rate, faster times).
type Comparison struct {
	A *CampaignSummary
	B *CampaignSummary

	WinRateDelta     float64
	DetectSpeedup    time.Duration
	ResolveSpeedup   time.Duration
	CommandDelta     int
	DestructiveDelta int
}

// Analyzer derives summaries and comparisons from stored campaigns.
type Analyzer struct {
	evals      *store.EvalStore
	healthy    map[string]HealthPredicate
	classifier CommandClassifier
}

// NewAnalyzer creates an analyzer. healthy maps subject names to their
// health predicates; classifier may be nil.
func NewAnalyzer(evals *store.EvalStore, healthy map[string]HealthPredicate, classifier CommandClassifier) *Analyzer {
	return &Analyzer{evals: evals, healthy: healthy, classifier: classifier}
}

// Summarize scores one campaign.
func (a *Analyzer) Summarize(ctx context.Context, campaignID int64) (*CampaignSummary, error) {
	campaign, err := a.evals.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	trials, err := a.evals.ListTrials(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return SummarizeCampaign(ctx, campaign, trials, a.healthy[campaign.SubjectName], a.classifier)
}

// Compare scores two campaigns and computes deltas (B relative to A).
func (a *Analyzer) Compare(ctx context.Context, campaignA, campaignB int64) (*Comparison, error) {
	sa, err := a.Summarize(ctx, campaignA)
	if err != nil {
		return nil, err
	}
	sb, err := a.Summarize(ctx, campaignB)
	if err != nil {
		return nil, err
	}
	return compareSummaries(sa, sb), nil
}

// CompareBaseline finds the most recent baseline campaign matching the
// agent campaign's subject and chaos type and compares against it.
func (a *Analyzer) CompareBaseline(ctx context.Context, agentCampaignID int64) (*Comparison, error) {
	agent, err := a.Summarize(ctx, agentCampaignID)
	if err != nil {
		return nil, err
	}
	candidates, err := a.evals.ListCampaignsBySubject(ctx, agent.SubjectName, agent.ChaosType)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if !candidates[i].Baseline {
			continue
		}
		baseline, err := a.Summarize(ctx, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		return compareSummaries(baseline, agent), nil
	}
	return nil, fmt.Errorf("no baseline campaign for %s/%s: %w",
		agent.SubjectName, agent.ChaosType, store.ErrNotFound)
}

// CompareVariants returns one summary per variant for a subject/chaos
// pair, most recent campaign per variant.
func (a *Analyzer) CompareVariants(ctx context.Context, subjectName, chaosType string) ([]*CampaignSummary, error) {
	campaigns, err := a.evals.ListCampaignsBySubject(ctx, subjectName, chaosType)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var summaries []*CampaignSummary
	for i := range campaigns {
		c := &campaigns[i]
		if c.Baseline {
			continue
		}
		if _, ok := seen[c.VariantName]; ok {
			continue
		}
		seen[c.VariantName] = struct{}{}
		s, err := a.summarizeCampaign(ctx, c)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (a *Analyzer) summarizeCampaign(ctx context.Context, campaign *models.Campaign) (*CampaignSummary, error) {
	trials, err := a.evals.ListTrials(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	return SummarizeCampaign(ctx, campaign, trials, a.healthy[campaign.SubjectName], a.classifier)
}

func compareSummaries(a, b *CampaignSummary) *Comparison {
	return &Comparison{
		A:                a,
		B:                b,
		WinRateDelta:     b.WinRate - a.WinRate,
		DetectSpeedup:    a.MeanTimeToDetect - b.MeanTimeToDetect,
		ResolveSpeedup:   a.MeanTimeToResolve - b.MeanTimeToResolve,
		CommandDelta:     b.TotalCommands - a.TotalCommands,
		DestructiveDelta: b.DestructiveCommands - a.DestructiveCommands,
	}
}
