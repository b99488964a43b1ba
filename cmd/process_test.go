package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/pipeline"
	"github.com/mailroute/mailroute/pkg/runlog"
	"github.com/mailroute/mailroute/pkg/server"
)

type recordingProcessor struct {
	subjects []string
}

func (p *recordingProcessor) Process(ctx context.Context, userID string, ev *event.InboundEvent, creds []destination.Credentials) *pipeline.Result {
	p.subjects = append(p.subjects, ev.Subject)
	return &pipeline.Result{
		RunID:  uuid.New(),
		State:  pipeline.StateLogged,
		Status: runlog.StatusSuccess,
	}
}

func testProcessDeps(proc *recordingProcessor) *ProcessCommandDeps {
	return &ProcessCommandDeps{
		LoadConfig: func() (*config.Config, error) {
			return config.DefaultConfig(), nil
		},
		LoadCreds: func() ([]destination.Credentials, error) {
			return nil, nil
		},
		NewProcessor: func(ctx context.Context, cfg *config.Config) (server.Processor, func(), error) {
			return proc, func() {}, nil
		},
	}
}

func TestNewProcessCommand(t *testing.T) {
	cmd := NewProcessCommand(nil)
	require.NotNil(t, cmd)
	assert.Contains(t, cmd.Use, "process")
	assert.NotNil(t, cmd.Flags().Lookup("output"))
	assert.NotNil(t, cmd.Flags().Lookup("user"))
}

func TestProcessEnvelopeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.json")
	envelope := `{"source":"Email","emails":[{"subject":"Invoice 42","from":"billing@acme.test","body":"total due 120"},{"subject":"Receipt","from":"shop@acme.test","body":"paid"}]}`
	require.NoError(t, os.WriteFile(path, []byte(envelope), 0600))

	proc := &recordingProcessor{}
	processOutput = outputJSON
	processUserID = "default"

	out, err := captureStdout(t, func() error {
		return runProcess(context.Background(), testProcessDeps(proc), path)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Invoice 42", "Receipt"}, proc.subjects)
	assert.Contains(t, out, `"Success"`)
}

func TestProcessRejectsBadEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	err := runProcess(context.Background(), testProcessDeps(&recordingProcessor{}), path)
	require.Error(t, err)
}

func TestProcessMissingFile(t *testing.T) {
	err := runProcess(context.Background(), testProcessDeps(&recordingProcessor{}), "/nonexistent/envelope.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading envelope")
}
