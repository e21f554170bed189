package cli

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vigil-ops/vigil/pkg/registry"
	"github.com/vigil-ops/vigil/pkg/subject"
)

// SubjectSetup bundles everything the daemons need for one supervised
// system. Deployments register their adapters at init time and select
// them with --subject.
type SubjectSetup struct {
	// Subject is the full adapter, including the eval contract.
	Subject subject.Subject

	// NewChecker builds a fresh invariant checker. Each daemon gets its
	// own instance; grace tracking is per-checker state.
	NewChecker func() subject.Checker

	// Actions are the subject-native action definitions and callbacks.
	Actions []SubjectAction

	// Logs optionally provides subject log tails for diagnosis context.
	Logs subject.LogTailer
}

// SubjectAction pairs a definition with its callback.
type SubjectAction struct {
	Definition registry.ActionDefinition
	Callback   registry.ActionFunc
}

var (
	subjectsMu sync.RWMutex
	subjects   = make(map[string]SubjectSetup)
)

// RegisterSubject makes a subject selectable by name. Typically called
// from an init function in the adapter package.
func RegisterSubject(name string, setup SubjectSetup) {
	subjectsMu.Lock()
	defer subjectsMu.Unlock()
	subjects[name] = setup
}

func lookupSubject(name string) (SubjectSetup, error) {
	subjectsMu.RLock()
	defer subjectsMu.RUnlock()
	setup, ok := subjects[name]
	if !ok {
		return SubjectSetup{}, fmt.Errorf("unknown subject %q (registered: %v)", name, subjectNames())
	}
	return setup, nil
}

func subjectNames() []string {
	names := make([]string, 0, len(subjects))
	for name := range subjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func allSubjects() map[string]subject.Subject {
	subjectsMu.RLock()
	defer subjectsMu.RUnlock()
	out := make(map[string]subject.Subject, len(subjects))
	for name, setup := range subjects {
		out[name] = setup.Subject
	}
	return out
}
