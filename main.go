// Package main provides the mailroute entry point.
// mailroute ingests email events, triages them with a reasoning service, and
// routes extracted records into connected tabular stores.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailroute/mailroute/cmd"
	"github.com/mailroute/mailroute/pkg/buildinfo"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mailroute",
		Short: "Email-event triage and routing into tabular stores",
		Long: `mailroute ingests email events, triages them with a reasoning service,
extracts attachment content, and routes records into connected tabular
stores. Every event leaves exactly one run record.

Start here:
  mailroute destinations connect <name>   connect a destination
  mailroute serve                         run the ingestion server
  mailroute runs                          inspect pipeline outcomes`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(cmd.NewServeCommand(nil))
	root.AddCommand(cmd.NewProcessCommand(nil))
	root.AddCommand(cmd.NewRunsCommand(nil))
	root.AddCommand(cmd.NewDestinationsCommand(nil))
	root.AddCommand(cmd.NewChatCommand(nil))

	return root
}
