package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailroute/mailroute/credentials"
	"github.com/mailroute/mailroute/pkg/destination"
)

// Destinations command flags
var (
	destOutput   string
	destBaseURL  string
	destBaseID   string
	destAPIKey   string
	destShowKeys bool
)

// DestinationsCommandDeps holds the dependencies for destinations commands.
type DestinationsCommandDeps struct {
	OpenStore func() (*credentials.Store, error)
	Discover  func(ctx context.Context, creds destination.Credentials) (*destination.Schema, error)

	// ReadSecret prompts for a secret without echo. Injectable for tests.
	ReadSecret func() (string, error)
}

// DefaultDestinationsDeps returns the default dependencies for production use.
func DefaultDestinationsDeps() *DestinationsCommandDeps {
	client := destination.NewClient()
	return &DestinationsCommandDeps{
		OpenStore: credentials.NewStore,
		Discover:  client.Discover,
		ReadSecret: func() (string, error) {
			data, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return "", fmt.Errorf("reading secret: %w", err)
			}
			return strings.TrimSpace(string(data)), nil
		},
	}
}

// NewDestinationsCommand creates the root destinations command with all subcommands.
func NewDestinationsCommand(deps *DestinationsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDestinationsDeps()
	}

	cmd := &cobra.Command{
		Use:     "destinations",
		Short:   "Manage connected destination services",
		Aliases: []string{"dest"},
		Long: `Manage connected destination services.

A destination is a tabular store (base, tables, typed fields) that routed
records are written to. Credentials are encrypted at rest; the API key never
touches disk in plaintext.`,
	}

	cmd.PersistentFlags().StringVarP(&destOutput, "output", "o", outputText, "Output format: text, json, yaml")

	cmd.AddCommand(newDestinationsConnectCommand(deps))
	cmd.AddCommand(newDestinationsListCommand(deps))
	cmd.AddCommand(newDestinationsDisconnectCommand(deps))
	cmd.AddCommand(newDestinationsSchemaCommand(deps))

	return cmd
}

func newDestinationsConnectCommand(deps *DestinationsCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <integration>",
		Short: "Connect a destination service",
		Long: `Connect a destination service by storing its credentials.

The API key is prompted interactively unless --api-key is given (prefer the
prompt; flags end up in shell history).

Examples:
  # Connect an Airtable-style CRM base
  mailroute destinations connect airtable-crm --base-url https://api.airtable.com --base-id appXXXX`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestinationsConnect(cmd.Context(), deps, args[0])
		},
	}

	cmd.Flags().StringVar(&destBaseURL, "base-url", "", "API root of the destination service (required)")
	cmd.Flags().StringVar(&destBaseID, "base-id", "", "Base/workspace identifier")
	cmd.Flags().StringVar(&destAPIKey, "api-key", "", "API key (omit to be prompted)")
	cmd.MarkFlagRequired("base-url")

	return cmd
}

func newDestinationsListCommand(deps *DestinationsCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List connected destinations",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestinationsList(deps)
		},
	}

	cmd.Flags().BoolVar(&destShowKeys, "show-keys", false, "Show masked API keys")

	return cmd
}

func newDestinationsDisconnectCommand(deps *DestinationsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect <integration>",
		Short:   "Remove a connected destination",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestinationsDisconnect(deps, args[0])
		},
	}
}

func newDestinationsSchemaCommand(deps *DestinationsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <integration>",
		Short: "Discover and show a destination's live schema",
		Long: `Discover and show a destination's live schema.

The schema is fetched fresh from the service, exactly as the router sees it
when mapping content onto tables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDestinationsSchema(cmd.Context(), deps, args[0])
		},
	}
}

func runDestinationsConnect(ctx context.Context, deps *DestinationsCommandDeps, integration string) error {
	store, err := deps.OpenStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	apiKey := destAPIKey
	if apiKey == "" {
		fmt.Printf("API key for %s: ", integration)
		apiKey, err = deps.ReadSecret()
		if err != nil {
			return err
		}
	}
	if apiKey == "" {
		return fmt.Errorf("api key must not be empty")
	}

	conn := &credentials.Connection{
		Integration: integration,
		BaseURL:     destBaseURL,
		APIKey:      apiKey,
		BaseID:      destBaseID,
		LastUpdated: time.Now().UTC(),
	}

	// Verify the credential before storing it: a connect that cannot
	// discover a schema would only fail later, mid-pipeline.
	if deps.Discover != nil {
		_, err := deps.Discover(ctx, destination.Credentials{
			Integration: integration,
			BaseURL:     destBaseURL,
			APIKey:      apiKey,
			BaseID:      destBaseID,
		})
		if err != nil {
			return fmt.Errorf("verifying credentials against %s: %w", destBaseURL, err)
		}
	}

	if err := store.Connect(conn); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	fmt.Printf("Connected %s (%s)\n", integration, destBaseURL)
	return nil
}

func runDestinationsList(deps *DestinationsCommandDeps) error {
	store, err := deps.OpenStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	names, err := store.List()
	if err != nil {
		return fmt.Errorf("listing destinations: %w", err)
	}

	if len(names) == 0 {
		fmt.Println("No destinations connected.")
		return nil
	}

	type row struct {
		Integration string `json:"integration" yaml:"integration"`
		BaseURL     string `json:"baseUrl" yaml:"base_url"`
		BaseID      string `json:"baseId,omitempty" yaml:"base_id,omitempty"`
		APIKey      string `json:"apiKey,omitempty" yaml:"api_key,omitempty"`
	}

	rows := make([]row, 0, len(names))
	for _, name := range names {
		conn, err := store.Get(name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		r := row{Integration: conn.Integration, BaseURL: conn.BaseURL, BaseID: conn.BaseID}
		if destShowKeys {
			r.APIKey = credentials.MaskAPIKey(conn.APIKey)
		}
		rows = append(rows, r)
	}

	if destOutput != outputText {
		return printFormatted(destOutput, rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if destShowKeys {
		fmt.Fprintln(w, "INTEGRATION\tBASE URL\tBASE ID\tAPI KEY")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Integration, r.BaseURL, r.BaseID, r.APIKey)
		}
	} else {
		fmt.Fprintln(w, "INTEGRATION\tBASE URL\tBASE ID")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Integration, r.BaseURL, r.BaseID)
		}
	}
	return w.Flush()
}

func runDestinationsDisconnect(deps *DestinationsCommandDeps, integration string) error {
	store, err := deps.OpenStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	if err := store.Disconnect(integration); err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			return fmt.Errorf("%s is not connected", integration)
		}
		return fmt.Errorf("disconnecting %s: %w", integration, err)
	}

	fmt.Printf("Disconnected %s\n", integration)
	return nil
}

func runDestinationsSchema(ctx context.Context, deps *DestinationsCommandDeps, integration string) error {
	store, err := deps.OpenStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	conn, err := store.Get(integration)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			return fmt.Errorf("%s is not connected", integration)
		}
		return fmt.Errorf("reading %s: %w", integration, err)
	}

	schema, err := deps.Discover(ctx, destination.Credentials{
		Integration: conn.Integration,
		BaseURL:     conn.BaseURL,
		APIKey:      conn.APIKey,
		BaseID:      conn.BaseID,
	})
	if err != nil {
		return fmt.Errorf("discovering schema: %w", err)
	}

	if destOutput != outputText {
		return printFormatted(destOutput, schema)
	}

	fmt.Printf("Schema for %s (base %s)\n\n", schema.Integration, schema.BaseID)

	tableNames := make([]string, 0, len(schema.Tables))
	for name := range schema.Tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range tableNames {
		table := schema.Tables[name]
		fmt.Fprintf(w, "%s\n", name)

		fieldNames := make([]string, 0, len(table.Fields))
		for fn := range table.Fields {
			fieldNames = append(fieldNames, fn)
		}
		sort.Strings(fieldNames)

		for _, fn := range fieldNames {
			f := table.Fields[fn]
			detail := f.Type
			if f.IsChoice() && len(f.Options) > 0 {
				detail += " (" + strings.Join(f.Options, ", ") + ")"
			}
			fmt.Fprintf(w, "  %s\t%s\n", fn, detail)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
