package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vigil-ops/vigil/pkg/authz"
	"github.com/vigil-ops/vigil/pkg/config"
	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/dispatch"
	"github.com/vigil-ops/vigil/pkg/masking"
	"github.com/vigil-ops/vigil/pkg/registry"
	"github.com/vigil-ops/vigil/pkg/risk"
	"github.com/vigil-ops/vigil/pkg/safety"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/tools"
)

// app is the wired operator core shared by all commands: databases,
// stores, registry, and the gated dispatcher.
type app struct {
	cfg config.Config

	ticketsDB *database.Client
	actionsDB *database.Client
	evalDB    *database.Client

	tickets *store.TicketStore
	actions *store.ActionStore
	audit   *store.AuditStore
	evals   *store.EvalStore

	redactor   *masking.Redactor
	registry   *registry.Registry
	safety     *safety.Controller
	risk       *risk.Tracker
	dispatcher *dispatch.Dispatcher
	executor   tools.Executor
}

// newApp opens the databases and wires the core. Callers must Close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if a.ticketsDB, err = database.Open(ctx, cfg.TicketsDBPath(), database.MigrationsTickets); err != nil {
		return nil, fmt.Errorf("open tickets db: %w", err)
	}
	if a.actionsDB, err = database.Open(ctx, cfg.ActionsDBPath(), database.MigrationsActions); err != nil {
		a.Close()
		return nil, fmt.Errorf("open actions db: %w", err)
	}
	if a.evalDB, err = database.Open(ctx, cfg.EvalDBPath(), database.MigrationsEval); err != nil {
		a.Close()
		return nil, fmt.Errorf("open eval db: %w", err)
	}

	a.redactor = masking.NewRedactor(masking.Config{PatternGroup: "all"})

	a.tickets = store.NewTicketStore(a.ticketsDB)
	a.actions = store.NewActionStore(a.actionsDB)
	a.audit = store.NewAuditStore(a.actionsDB, a.redactor)
	a.evals = store.NewEvalStore(a.evalDB)

	a.registry = registry.New()
	a.safety = safety.NewController(a.actions, a.audit)
	a.risk = risk.NewTracker(risk.DefaultConfig())
	a.executor = tools.NewLocalExecutor(tools.NewScriptValidator(a.redactor))

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.ApprovalMode = cfg.ApprovalMode
	dispatchCfg.RefuseCritical = cfg.RefuseCriticalRisk
	a.dispatcher = dispatch.New(dispatchCfg, a.actions, a.audit,
		a.registry, a.safety, authz.New(nil, nil), a.risk, a.executor)

	return a, nil
}

// registerSubjectActions adds a subject's native actions to the catalog.
func (a *app) registerSubjectActions(setup SubjectSetup) error {
	for _, action := range setup.Actions {
		if err := a.registry.RegisterSubjectAction(action.Definition, action.Callback); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the databases. Safe on partially constructed apps.
func (a *app) Close() {
	for _, db := range []*database.Client{a.evalDB, a.actionsDB, a.ticketsDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			slog.Warn("Database close failed", "error", err)
		}
	}
}
