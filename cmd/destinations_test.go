// Package cmd provides CLI commands for the mailroute tool.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroute/mailroute/credentials"
	"github.com/mailroute/mailroute/pkg/destination"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// setupCredentialStore points the credential store at a temp dir with a
// deterministic key.
func setupCredentialStore(t *testing.T) {
	t.Helper()
	t.Setenv("MAILROUTE_CONFIG_DIR", t.TempDir())
	t.Setenv("MAILROUTE_ENCRYPTION_KEY", testEncryptionKey)
}

// captureStdout runs fn and returns everything it wrote to stdout.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), runErr
}

func testDestinationsDeps(discover func(ctx context.Context, creds destination.Credentials) (*destination.Schema, error)) *DestinationsCommandDeps {
	return &DestinationsCommandDeps{
		OpenStore: credentials.NewStore,
		Discover:  discover,
		ReadSecret: func() (string, error) {
			return "key-from-prompt", nil
		},
	}
}

func okDiscover(ctx context.Context, creds destination.Credentials) (*destination.Schema, error) {
	return &destination.Schema{
		Integration: creds.Integration,
		BaseID:      creds.BaseID,
		Tables: map[string]destination.Table{
			"Leads": {ID: "tbl1", Fields: map[string]destination.Field{
				"Name":   {Type: "singleLineText", Required: true},
				"Status": {Type: "singleSelect", Options: []string{"New", "Won"}},
			}},
		},
	}, nil
}

func TestNewDestinationsCommand(t *testing.T) {
	cmd := NewDestinationsCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "destinations", cmd.Use)

	subs := []string{"connect", "list", "disconnect", "schema"}
	for _, name := range subs {
		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "missing subcommand %s", name)
	}
}

func TestDestinationsConnectAndList(t *testing.T) {
	setupCredentialStore(t)
	deps := testDestinationsDeps(okDiscover)

	destBaseURL = "https://api.example.test"
	destBaseID = "app123"
	destAPIKey = ""
	defer func() { destBaseURL, destBaseID = "", "" }()

	_, err := captureStdout(t, func() error {
		return runDestinationsConnect(context.Background(), deps, "airtable-crm")
	})
	require.NoError(t, err)

	// The API key came from the prompt and round-trips decrypted.
	store, err := credentials.NewStore()
	require.NoError(t, err)
	conn, err := store.Get("airtable-crm")
	require.NoError(t, err)
	assert.Equal(t, "key-from-prompt", conn.APIKey)
	assert.Equal(t, "https://api.example.test", conn.BaseURL)

	destOutput = outputText
	destShowKeys = false
	out, err := captureStdout(t, func() error {
		return runDestinationsList(deps)
	})
	require.NoError(t, err)
	assert.Contains(t, out, "airtable-crm")
	assert.Contains(t, out, "https://api.example.test")
	assert.NotContains(t, out, "key-from-prompt")
}

func TestDestinationsConnectRejectsBadCredentials(t *testing.T) {
	setupCredentialStore(t)
	deps := testDestinationsDeps(func(ctx context.Context, creds destination.Credentials) (*destination.Schema, error) {
		return nil, errors.New("401 unauthorized")
	})

	destBaseURL = "https://api.example.test"
	destAPIKey = "bad-key"
	defer func() { destBaseURL, destAPIKey = "", "" }()

	_, err := captureStdout(t, func() error {
		return runDestinationsConnect(context.Background(), deps, "airtable-crm")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verifying credentials")

	// Nothing was stored.
	store, err := credentials.NewStore()
	require.NoError(t, err)
	_, err = store.Get("airtable-crm")
	assert.ErrorIs(t, err, credentials.ErrNotConnected)
}

func TestDestinationsDisconnect(t *testing.T) {
	setupCredentialStore(t)
	deps := testDestinationsDeps(okDiscover)

	store, err := credentials.NewStore()
	require.NoError(t, err)
	require.NoError(t, store.Connect(&credentials.Connection{
		Integration: "airtable-crm",
		BaseURL:     "https://api.example.test",
		APIKey:      "secret",
		LastUpdated: time.Now(),
	}))

	_, err = captureStdout(t, func() error {
		return runDestinationsDisconnect(deps, "airtable-crm")
	})
	require.NoError(t, err)

	_, err = store.Get("airtable-crm")
	assert.ErrorIs(t, err, credentials.ErrNotConnected)
}

func TestDestinationsDisconnectUnknown(t *testing.T) {
	setupCredentialStore(t)
	deps := testDestinationsDeps(okDiscover)

	_, err := captureStdout(t, func() error {
		return runDestinationsDisconnect(deps, "nope")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDestinationsSchema(t *testing.T) {
	setupCredentialStore(t)
	deps := testDestinationsDeps(okDiscover)

	store, err := credentials.NewStore()
	require.NoError(t, err)
	require.NoError(t, store.Connect(&credentials.Connection{
		Integration: "airtable-crm",
		BaseURL:     "https://api.example.test",
		APIKey:      "secret",
		BaseID:      "app123",
		LastUpdated: time.Now(),
	}))

	destOutput = outputText
	out, err := captureStdout(t, func() error {
		return runDestinationsSchema(context.Background(), deps, "airtable-crm")
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Leads")
	assert.Contains(t, out, "Status")
	assert.True(t, strings.Contains(out, "New, Won"), "choice options should be listed: %s", out)
}
