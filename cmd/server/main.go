package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "permguard",
		Short:         "Role and user permission service",
		Long:          "Serves the permission admin API and enforcement gate, and manages grants and data-access log retention.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newGrantCmd("grant", true),
		newGrantCmd("revoke", false),
		newPurgeCmd(),
		newTokenCmd(),
	)
	return root
}
