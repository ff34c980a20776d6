//go:build integration

// Integration tests lease a database from pgflock (port 9776).

package pgsafe_test

import (
	"context"
	"os"
	"testing"

	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	"github.com/rickchristie/pgsafe"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgsafe.Config {
	return pgsafe.Config{
		Pool: pgsafe.PoolConfig{MaxConns: 5},
		Query: pgsafe.QueryConfig{
			DefaultTimeoutSeconds:     30,
			ListTablesTimeoutSeconds:  10,
			TableSchemaTimeoutSeconds: 10,
			MaxRows:                   1000,
		},
	}
}

func newTestEngine(t *testing.T, config pgsafe.Config) (*pgsafe.Engine, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	e, err := pgsafe.New(context.Background(), connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create Engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, connStr
}

// setup runs statements through the unrestricted executor.
func setup(t *testing.T, e *pgsafe.Engine, statements ...string) {
	t.Helper()
	for _, sql := range statements {
		if _, err := e.Execute(context.Background(), pgsafe.QueryRequest{Statement: sql}); err != nil {
			t.Fatalf("setup %q failed: %v", sql, err)
		}
	}
}

// newReadOnlyTestEngine prepares the database with a writable engine, closes
// it, then opens a read-only engine on the same database.
func newReadOnlyTestEngine(t *testing.T, config pgsafe.Config, statements ...string) *pgsafe.Engine {
	t.Helper()
	connStr := acquireTestDB(t)
	ctx := context.Background()

	writer, err := pgsafe.New(ctx, connStr, defaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to create setup engine: %v", err)
	}
	setup(t, writer, statements...)
	writer.Close()

	config.ReadOnly = true
	e, err := pgsafe.New(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("failed to create read-only engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}
