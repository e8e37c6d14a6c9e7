package cli

import (
	"github.com/spf13/cobra"

	"github.com/voltclear/voltclear/internal/config"
)

// NewParamsCommand creates the params command group.
func NewParamsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Protocol parameter utilities",
	}
	cmd.AddCommand(newParamsValidateCommand(rootOpts))
	cmd.AddCommand(newParamsDefaultsCommand(rootOpts))
	return cmd
}

func newParamsValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <params.yaml>",
		Short: "Validate a parameter file against the schema",
		Long: `Validate a YAML protocol parameter file against the embedded CUE
schema and range checks, and print the parsed parameters on success.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			params, err := config.Load(args[0])
			if err != nil {
				_ = out.Failure(err)
				return WrapExitError(ExitFailure, "parameter file invalid", err)
			}
			return out.Success(params)
		},
	}
}

func newParamsDefaultsCommand(rootOpts *RootOptions) *cobra.Command {
	var authority string
	cmd := &cobra.Command{
		Use:           "defaults",
		Short:         "Print the reference parameter set",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			return out.Success(config.Defaults(authority))
		},
	}
	cmd.Flags().StringVar(&authority, "authority", "protocol", "protocol authority identifier")
	return cmd
}
