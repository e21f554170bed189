package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/database"
	"github.com/vigil-ops/vigil/pkg/masking"
	"github.com/vigil-ops/vigil/pkg/models"
)

func openTestDB(t *testing.T, set database.MigrationSet) *database.Client {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), string(set)+".db"), set)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestTicketStore(t *testing.T) *TicketStore {
	t.Helper()
	return NewTicketStore(openTestDB(t, database.MigrationsTickets))
}

func newTestActionStores(t *testing.T) (*ActionStore, *AuditStore) {
	t.Helper()
	db := openTestDB(t, database.MigrationsActions)
	return NewActionStore(db), NewAuditStore(db, masking.NewRedactor(masking.Config{}))
}

func testViolation(invariant string, entity *string) models.Violation {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.Violation{
		InvariantName: invariant,
		Message:       invariant + " violated",
		EntityID:      entity,
		Severity:      models.SeverityHigh,
		FirstSeen:     now,
		LastSeen:      now,
	}
}

func strptr(s string) *string { return &s }
