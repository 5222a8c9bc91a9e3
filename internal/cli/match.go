package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/vibegraph/internal/matcher"
	"github.com/scrypster/vibegraph/pkg/types"
)

type matchOutput struct {
	*matcher.Response
	Advice *types.Advice `json:"advice,omitempty"`
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	var (
		strategy  string
		region    string
		location  string
		interests []string
		avoid     []string
		limit     int
		advise    bool
	)

	cmd := &cobra.Command{
		Use:   "match <description>",
		Short: "Rank vibes against a scenario",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			req := matcher.Request{
				Strategy: strategy,
				Scenario: types.Scenario{
					Description: strings.Join(args, " "),
					Location:    location,
				},
				Limit: limit,
			}
			if region != "" || len(interests) > 0 || len(avoid) > 0 {
				req.Profile = &types.UserProfile{
					Region:      region,
					Interests:   interests,
					AvoidTopics: avoid,
				}
			}

			out := matchOutput{Response: a.matcher.Match(cmd.Context(), req)}
			if advise {
				out.Advice = a.advisor.Advise(cmd.Context(), req.Scenario, out.Matches)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "matching strategy (default: configured)")
	cmd.Flags().StringVar(&region, "region", "", "profile region used for regional relevance")
	cmd.Flags().StringVar(&location, "location", "", "scenario location")
	cmd.Flags().StringSliceVar(&interests, "interest", nil, "profile interest (repeatable)")
	cmd.Flags().StringSliceVar(&avoid, "avoid", nil, "topic to exclude (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of matches")
	cmd.Flags().BoolVar(&advise, "advise", false, "also generate advice with the configured LLM")
	return cmd
}
