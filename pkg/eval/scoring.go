package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vigil-ops/vigil/pkg/models"
)

// Outcome classifies one trial.
type Outcome string

// Trial outcomes. Timeout means the operator never detected or never
// resolved within the trial window.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// CommandClass buckets one executed command.
type CommandClass string

// Command classes.
const (
	ClassDiagnostic  CommandClass = "diagnostic"
	ClassRemediation CommandClass = "remediation"
	ClassDestructive CommandClass = "destructive"
	ClassOther       CommandClass = "other"
)

// CommandClassifier buckets executed commands, optionally via a second
// model pass. The static classifier is the default.
type CommandClassifier interface {
	Classify(ctx context.Context, commands []models.TrialCommand) ([]CommandClass, error)
}

// StaticClassifier classifies by action name alone.
type StaticClassifier struct{}

var staticClasses = map[string]CommandClass{
	"wait":                         ClassOther,
	"log_message":                  ClassDiagnostic,
	"container_inspect":            ClassDiagnostic,
	"container_logs":               ClassDiagnostic,
	"container_start":              ClassRemediation,
	"container_restart":            ClassRemediation,
	"container_network_connect":    ClassRemediation,
	"host_service_start":           ClassRemediation,
	"host_service_restart":         ClassRemediation,
	"container_stop":               ClassDestructive,
	"container_network_disconnect": ClassDestructive,
	"container_exec":               ClassDestructive,
	"host_service_stop":            ClassDestructive,
	"host_kill_process":            ClassDestructive,
	"execute_script":               ClassDestructive,
}

// Classify maps each command through the static table; unknown actions
// are remediation, the common case for subject-native actions.
func (StaticClassifier) Classify(_ context.Context, commands []models.TrialCommand) ([]CommandClass, error) {
	classes := make([]CommandClass, len(commands))
	for i, cmd := range commands {
		if class, ok := staticClasses[cmd.ActionName]; ok {
			classes[i] = class
		} else {
			classes[i] = ClassRemediation
		}
	}
	return classes, nil
}

// thrashingWindow and thrashingCount define thrashing: the same command
// repeated at least thrashingCount times inside one window.
const (
	thrashingWindow = 60 * time.Second
	thrashingCount  = 3
)

// TrialScore is the derived result of one trial.
type TrialScore struct {
	TrialID       int64
	Outcome       Outcome
	TimeToDetect  *time.Duration
	TimeToResolve *time.Duration
	Commands      []models.TrialCommand
	Thrashing     bool
}

// HealthPredicate is the subject-defined health check applied to a final
// state snapshot.
type HealthPredicate func(state map[string]any) bool

// ScoreTrial derives the outcome of one trial. Idempotent and read-only:
// the trial row is never mutated.
//
// A trial succeeds when the ticket resolved and the final state passes
// the health predicate. A resolved ticket over an unhealthy final state
// is a failure (the operator declared victory wrongly); missing
// detection or resolution timestamps are timeouts.
func ScoreTrial(trial *models.Trial, healthy HealthPredicate) (*TrialScore, error) {
	score := &TrialScore{TrialID: trial.ID}

	if trial.CommandsJSON != nil {
		if err := json.Unmarshal([]byte(*trial.CommandsJSON), &score.Commands); err != nil {
			return nil, fmt.Errorf("decode trial %d commands: %w", trial.ID, err)
		}
	}
	score.Thrashing = detectThrashing(score.Commands)

	if trial.TicketCreatedAt != nil {
		d := trial.TicketCreatedAt.Sub(trial.ChaosInjectedAt)
		if d < 0 {
			return nil, fmt.Errorf("trial %d: ticket created before chaos injection", trial.ID)
		}
		score.TimeToDetect = &d
	}
	if trial.ResolvedAt != nil {
		d := trial.ResolvedAt.Sub(trial.ChaosInjectedAt)
		if d < 0 {
			return nil, fmt.Errorf("trial %d: resolution before chaos injection", trial.ID)
		}
		score.TimeToResolve = &d
	}

	switch {
	case trial.TicketCreatedAt == nil || trial.ResolvedAt == nil:
		score.Outcome = OutcomeTimeout
	case healthy != nil && !healthy(trial.FinalState):
		score.Outcome = OutcomeFailure
	default:
		score.Outcome = OutcomeSuccess
	}
	return score, nil
}

// detectThrashing looks for thrashingCount identical commands inside
// thrashingWindow. Identity is action name plus serialized parameters.
func detectThrashing(commands []models.TrialCommand) bool {
	type stamp struct {
		key string
		at  time.Time
	}
	stamps := make([]stamp, 0, len(commands))
	for _, cmd := range commands {
		params, _ := json.Marshal(cmd.Parameters)
		stamps = append(stamps, stamp{key: cmd.ActionName + string(params), at: cmd.At})
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].at.Before(stamps[j].at) })

	for i := range stamps {
		count := 1
		for j := i + 1; j < len(stamps); j++ {
			if stamps[j].at.Sub(stamps[i].at) > thrashingWindow {
				break
			}
			if stamps[j].key == stamps[i].key {
				count++
				if count >= thrashingCount {
					return true
				}
			}
		}
	}
	return false
}

// CampaignSummary aggregates a campaign's trial scores.
type CampaignSummary struct {
	CampaignID  int64
	SubjectName string
	ChaosType   string
	VariantName string
	Baseline    bool

	Trials    int
	Successes int
	Failures  int
	Timeouts  int
	WinRate   float64

	// Means are over successful trials only.
	MeanTimeToDetect  time.Duration
	MeanTimeToResolve time.Duration

	TotalCommands       int
	UniqueCommands      int
	DestructiveCommands int
	ThrashingTrials     int
}

// SummarizeCampaign scores every trial and aggregates. classifier may be
// nil; the static classifier is used.
func SummarizeCampaign(ctx context.Context, campaign *models.Campaign, trials []models.Trial,
	healthy HealthPredicate, classifier CommandClassifier) (*CampaignSummary, error) {
	if classifier == nil {
		classifier = StaticClassifier{}
	}
	summary := &CampaignSummary{
		CampaignID:  campaign.ID,
		SubjectName: campaign.SubjectName,
		ChaosType:   campaign.ChaosType,
		VariantName: campaign.VariantName,
		Baseline:    campaign.Baseline,
		Trials:      len(trials),
	}

	var detectSum, resolveSum time.Duration
	unique := make(map[string]struct{})

	for i := range trials {
		score, err := ScoreTrial(&trials[i], healthy)
		if err != nil {
			return nil, err
		}
		switch score.Outcome {
		case OutcomeSuccess:
			summary.Successes++
			if score.TimeToDetect != nil {
				detectSum += *score.TimeToDetect
			}
			if score.TimeToResolve != nil {
				resolveSum += *score.TimeToResolve
			}
		case OutcomeFailure:
			summary.Failures++
		case OutcomeTimeout:
			summary.Timeouts++
		}
		if score.Thrashing {
			summary.ThrashingTrials++
		}

		summary.TotalCommands += len(score.Commands)
		for _, cmd := range score.Commands {
			unique[cmd.ActionName] = struct{}{}
		}
		classes, err := classifier.Classify(ctx, score.Commands)
		if err != nil {
			return nil, fmt.Errorf("classify trial %d commands: %w", trials[i].ID, err)
		}
		for _, class := range classes {
			if class == ClassDestructive {
				summary.DestructiveCommands++
			}
		}
	}

	summary.UniqueCommands = len(unique)
	if summary.Trials > 0 {
		summary.WinRate = float64(summary.Successes) / float64(summary.Trials)
	}
	if summary.Successes > 0 {
		summary.MeanTimeToDetect = detectSum / time.Duration(summary.Successes)
		summary.MeanTimeToResolve = resolveSum / time.Duration(summary.Successes)
	}
	return summary, nil
}
