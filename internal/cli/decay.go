package cli

import (
	"github.com/spf13/cobra"
)

func newDecayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Recompute relevance for every vibe and prune the faded ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.ApplyDecayAndPrune(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
