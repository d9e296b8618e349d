package database

import (
	"testing"

	"github.com/legalkit/lexor/pkg/database"
	"github.com/legalkit/lexor/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	return database.NewClientFromPool(util.SetupTestPool(t))
}
