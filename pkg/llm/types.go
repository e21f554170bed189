// Package llm produces structured diagnoses from ticket context via a
// language model. The provider-facing interface is narrow so agents and
// tests can swap in deterministic fakes.
package llm

import (
	"context"
	"errors"

	"github.com/vigil-ops/vigil/pkg/models"
)

// StopKind classifies how a diagnosis call ended.
type StopKind string

// Stop kinds. Refusal and truncation are surfaced to the caller rather
// than swallowed so the ticket can record a diagnosis error.
const (
	StopNormal    StopKind = "normal"
	StopRefusal   StopKind = "refusal"
	StopMaxTokens StopKind = "max_tokens"
)

// ErrRateLimited is returned when the provider rejected the request for
// rate or capacity reasons after the client's own retries.
var ErrRateLimited = errors.New("llm provider rate limited")

// ErrNoDiagnosis is returned when the model reply carried no structured
// diagnosis payload.
var ErrNoDiagnosis = errors.New("model returned no diagnosis")

// Alternative is a secondary hypothesis with its supporting signal.
type Alternative struct {
	Hypothesis string `json:"hypothesis"`
	Evidence   string `json:"evidence"`
}

// Diagnosis is the structured root-cause assessment for one ticket.
type Diagnosis struct {
	Severity        models.Severity               `json:"severity"`
	PrimaryCause    string                        `json:"primary_cause"`
	Evidence        string                        `json:"evidence"`
	Alternatives    []Alternative                 `json:"alternatives,omitempty"`
	Recommendations []models.ActionRecommendation `json:"recommendations,omitempty"`
}

// Result is one diagnosis call outcome. Diagnosis is nil unless Stop is
// StopNormal.
type Result struct {
	Diagnosis *Diagnosis
	Stop      StopKind
	Raw       string
}

// Client is the model interface the agent depends on.
type Client interface {
	Diagnose(ctx context.Context, ticketContext string, actions []ActionSpec) (*Result, error)
}

// ActionSpec describes one available action for the model's tool catalog.
type ActionSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}
