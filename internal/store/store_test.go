package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/smartstore/internal/registry"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("smartstore_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// --- Test Scenarios ---

	// Fresh database opens empty
	reg, err := registry.Open(ctx, New(connStr))
	if err != nil {
		t.Fatalf("Failed to open registry: %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Expected empty registry, got %d labels", reg.Count())
	}

	chair, err := reg.GetOrAdd("chair")
	if err != nil {
		t.Fatal(err)
	}
	table, err := reg.GetOrAdd("table")
	if err != nil {
		t.Fatal(err)
	}
	if chair != 0 || table != 1 {
		t.Errorf("Expected IDs 0 and 1, got %d and %d", chair, table)
	}
	if err := reg.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	// Assignments after the last persist are lost on close
	_, _ = reg.GetOrAdd("ghost")
	if err := reg.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := registry.Open(ctx, New(connStr))
	if err != nil {
		t.Fatalf("Failed to reopen registry: %v", err)
	}
	defer reopened.Close(ctx)

	if reopened.Count() != 2 {
		t.Errorf("Expected count 2 after reload, got %d", reopened.Count())
	}
	if id, err := reopened.GetID("table"); err != nil || id != 1 {
		t.Errorf("GetID(table) = %d, %v; want 1", id, err)
	}
	if id, err := reopened.GetOrAdd("lamp"); err != nil || id != 2 {
		t.Errorf("GetOrAdd(lamp) = %d, %v; want 2", id, err)
	}

	// A second persist replaces the table wholesale
	if err := reopened.Persist(ctx); err != nil {
		t.Fatalf("Second persist failed: %v", err)
	}
	labels := reopened.Labels()
	if len(labels) != 3 || labels[2] != "lamp" {
		t.Errorf("Unexpected labels %v", labels)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
