package database

import (
	"testing"

	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/test/util"
)

// SharedTestDB creates a single PostgreSQL schema that can be shared by
// multiple test replicas. Each replica gets its own connection pool via
// NewStore, but all pools point to the same schema, enabling cross-replica
// tests that exercise the action ledger and the conversation row lock.
type SharedTestDB struct {
	connStrWithSchema string
}

// NewSharedTestDB creates a shared test schema, runs migrations once, and
// registers t.Cleanup to drop the schema. Call NewStore to create an
// independent store for each replica.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	return &SharedTestDB{connStrWithSchema: util.SetupSharedSchema(t)}
}

// NewStore creates an independent *store.Postgres backed by a fresh
// connection pool to the shared schema. Each replica has its own pool so it
// can be shut down independently without races; the pool is closed via
// t.Cleanup.
func (s *SharedTestDB) NewStore(t *testing.T) *store.Postgres {
	t.Helper()
	return store.NewPostgresFromDB(util.OpenPool(t, s.connStrWithSchema))
}
