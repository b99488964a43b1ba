package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/pkg/runlog"
)

func testRunsDeps(store runlog.Store) *RunsCommandDeps {
	return &RunsCommandDeps{
		LoadConfig: func() (*config.Config, error) {
			return config.DefaultConfig(), nil
		},
		OpenStore: func(ctx context.Context, cfg *config.Config) (runlog.Store, func(), error) {
			return store, func() {}, nil
		},
	}
}

func seedRuns(t *testing.T, store runlog.Store) {
	t.Helper()
	records := []runlog.RunRecord{
		{ID: uuid.New(), UserID: "default", RunTime: time.Now().Add(-2 * time.Hour), DataType: "invoice", Source: "Email", Destination: "airtable-crm", Status: runlog.StatusSuccess},
		{ID: uuid.New(), UserID: "default", RunTime: time.Now().Add(-time.Hour), DataType: "lead", Source: "Email", Destination: "airtable-crm", Status: runlog.StatusFailed},
		{ID: uuid.New(), UserID: "default", RunTime: time.Now(), DataType: "newsletter", Source: "Email", Destination: "none", Status: runlog.StatusSkip},
	}
	for i := range records {
		require.NoError(t, store.Append(context.Background(), &records[i]))
	}
}

func TestNewRunsCommand(t *testing.T) {
	cmd := NewRunsCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "runs", cmd.Use)

	for _, flagName := range []string{"output", "limit", "user", "status"} {
		assert.NotNil(t, cmd.Flags().Lookup(flagName), "runs command missing flag: %s", flagName)
	}
}

func TestRunsListsNewestFirst(t *testing.T) {
	store := runlog.NewMemoryStore()
	seedRuns(t, store)

	runsOutput = outputText
	runsUserID = "default"
	runsStatus = ""
	runsLimit = 50

	out, err := captureStdout(t, func() error {
		return runRuns(context.Background(), testRunsDeps(store))
	})
	require.NoError(t, err)

	assert.Contains(t, out, "invoice")
	assert.Contains(t, out, "Skip")
	// Newest first: the skip run precedes the invoice run.
	assert.Less(t, strings.Index(out, "newsletter"), strings.Index(out, "invoice"))
}

func TestRunsStatusFilter(t *testing.T) {
	store := runlog.NewMemoryStore()
	seedRuns(t, store)

	runsOutput = outputText
	runsUserID = "default"
	runsStatus = "Failed"
	runsLimit = 50
	defer func() { runsStatus = "" }()

	out, err := captureStdout(t, func() error {
		return runRuns(context.Background(), testRunsDeps(store))
	})
	require.NoError(t, err)

	assert.Contains(t, out, "lead")
	assert.NotContains(t, out, "invoice")
	assert.NotContains(t, out, "newsletter")
}

func TestRunsRejectsInvalidStatus(t *testing.T) {
	runsStatus = "Done"
	defer func() { runsStatus = "" }()

	err := runRuns(context.Background(), testRunsDeps(runlog.NewMemoryStore()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestRunsEmpty(t *testing.T) {
	runsOutput = outputText
	runsUserID = "default"
	runsStatus = ""

	out, err := captureStdout(t, func() error {
		return runRuns(context.Background(), testRunsDeps(runlog.NewMemoryStore()))
	})
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found")
}
