package database

import (
	"testing"

	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/test/util"
)

// NewTestStore creates a Postgres store on a private, fully migrated schema.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL
// service container. In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are cleaned up when the test ends.
func NewTestStore(t *testing.T) *store.Postgres {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return store.NewPostgresFromDB(db)
}
