package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a test database client with CI/local environment
// detection. In CI (when CI_DATABASE_URL is set) it connects to an external
// PostgreSQL service container; locally it spins up a testcontainer.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("lexor_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, RunMigrations(connStr, "lexor_test"))

	client := NewClientFromPool(pool)
	t.Cleanup(client.Close)
	return client
}

func TestClientConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Pool().Ping(ctx))

	health, err := Health(ctx, client.Pool())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxConns, int32(0))
	assert.GreaterOrEqual(t, health.ResponseTime, int64(0))
	assert.Less(t, health.ResponseTime, int64(1000))
}

func TestMigrationsCreateSchema(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Pool().Exec(ctx,
		`INSERT INTO requests (trace_id, query, status) VALUES ($1, $2, $3)`,
		"trace-1", "il recesso dal contratto di locazione", "running")
	require.NoError(t, err)

	_, err = client.Pool().Exec(ctx,
		`INSERT INTO requests (trace_id, query, status) VALUES ($1, $2, $3)`,
		"trace-2", "licenziamento per giusta causa", "running")
	require.NoError(t, err)

	// Full-text search over query text uses the italian GIN index.
	rows, err := client.Pool().Query(ctx,
		`SELECT trace_id FROM requests
		 WHERE to_tsvector('italian', query) @@ to_tsquery('italian', $1)`,
		"recesso & contratto")
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var traceID string
		require.NoError(t, rows.Scan(&traceID))
		results = append(results, traceID)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"trace-1"}, results)
}

func TestIterationIndexUniquePerTrace(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Pool().Exec(ctx,
		`INSERT INTO requests (trace_id, query, status) VALUES ($1, $2, $3)`,
		"trace-uniq", "q", "running")
	require.NoError(t, err)

	insertIteration := func(id string) error {
		_, err := client.Pool().Exec(ctx,
			`INSERT INTO iterations (id, trace_id, idx, plan, answer, metrics, started_at, completed_at)
			 VALUES ($1, $2, 1, '{}', '{}', '{}', now(), now())`, id)
		return err
	}

	require.NoError(t, insertIteration("it-1"))
	err = insertIteration("it-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterations_trace_idx_unique")
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid config with defaults",
			envVars: map[string]string{"DB_PASSWORD": "test"},
		},
		{
			name: "valid config with custom values",
			envVars: map[string]string{
				"DB_HOST":               "db.example.com",
				"DB_PORT":               "5433",
				"DB_USER":               "admin",
				"DB_PASSWORD":           "secret",
				"DB_NAME":               "production",
				"DB_SSLMODE":            "require",
				"DB_MAX_CONNS":          "50",
				"DB_MIN_CONNS":          "20",
				"DB_CONN_MAX_LIFETIME":  "1h",
				"DB_CONN_MAX_IDLE_TIME": "10m",
			},
		},
		{
			name:        "invalid DB_PORT",
			envVars:     map[string]string{"DB_PORT": "invalid", "DB_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DB_PORT",
		},
		{
			name:        "invalid DB_MAX_CONNS",
			envVars:     map[string]string{"DB_MAX_CONNS": "not_a_number", "DB_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DB_MAX_CONNS",
		},
		{
			name:        "invalid DB_CONN_MAX_LIFETIME",
			envVars:     map[string]string{"DB_CONN_MAX_LIFETIME": "soon", "DB_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DB_CONN_MAX_LIFETIME",
		},
		{
			name:        "missing password",
			envVars:     map[string]string{},
			wantErr:     true,
			errContains: "DB_PASSWORD is required",
		},
	}

	envKeys := []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
			for key, val := range tt.envVars {
				t.Setenv(key, val)
			}

			cfg, err := LoadConfigFromEnv()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			if tt.name == "valid config with defaults" {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 5432, cfg.Port)
				assert.Equal(t, "lexor", cfg.User)
				assert.Equal(t, 25, cfg.MaxConns)
				assert.Equal(t, 5, cfg.MinConns)
				assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Host: "localhost", Port: 5432, User: "test", Password: "test",
		Database: "test", SSLMode: "disable", MaxConns: 10, MinConns: 5,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing password", mutate: func(c *Config) { c.Password = "" }, wantErr: true},
		{name: "min conns exceed max conns", mutate: func(c *Config) { c.MinConns = 20 }, wantErr: true},
		{name: "zero max conns", mutate: func(c *Config) { c.MaxConns = 0 }, wantErr: true},
		{name: "negative min conns", mutate: func(c *Config) { c.MinConns = -1 }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
