package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display querydeck version, build information and the available backends.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "querydeck v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "commit %s, built %s\n", commit, date)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backends: %v\n", backend.List())
		},
	}
}
