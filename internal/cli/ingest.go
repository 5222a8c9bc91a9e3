package cli

import (
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/scrypster/vibegraph/pkg/types"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var vibesFile string

	cmd := &cobra.Command{
		Use:   "ingest [feed...]",
		Short: "Run one collect-analyze-ingest cycle, or ingest candidate vibes from a file",
		Long: "Without --vibes, collects the configured feeds plus any given as arguments, " +
			"extracts vibes with the configured LLM and merges them into the graph. " +
			"With --vibes, the file's JSON array of vibes is merged directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, args...)
			if err != nil {
				return err
			}
			defer a.Close()

			if vibesFile != "" {
				candidates, err := readCandidates(vibesFile)
				if err != nil {
					return err
				}
				res, err := a.engine.Ingest(cmd.Context(), candidates)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			res, err := a.engine.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&vibesFile, "vibes", "", "JSON file holding an array of candidate vibes")
	return cmd
}

func readCandidates(path string) ([]*types.Vibe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read vibes file", goerr.V("path", path))
	}
	var candidates []*types.Vibe
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, goerr.Wrap(err, "failed to parse vibes file", goerr.V("path", path))
	}
	return candidates, nil
}
