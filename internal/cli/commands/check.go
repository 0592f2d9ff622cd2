package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/protocol"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &IdentityOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and sign in to the backend",
		Long: `Validate the configuration and open one connection as the given user,
exactly as signing in to the console does.`,
		Example: `  querydeck check -U alice
  QUERYDECK_PASSWORD=secret querydeck check -U alice --backend postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, opts)
		},
	}

	opts.addFlags(cmd)
	return cmd
}

func runCheck(cmd *cobra.Command, opts *IdentityOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd, output.ModeAuto)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	r.Printf("Backend: %s\n", cmdCtx.Cfg.Backend.Type)
	if file := runtimeFrom(cmd.Context()).Loader.FileUsed(); file != "" {
		r.Printf("Config:  %s\n", file)
	}

	id, err := opts.resolve(cmd)
	if err != nil {
		return err
	}

	if err := cmdCtx.Sessions.Check(cmd.Context(), id); err != nil {
		return errors.New(protocol.Render(err))
	}
	r.Success("Signed in as " + id.Principal)
	return nil
}
