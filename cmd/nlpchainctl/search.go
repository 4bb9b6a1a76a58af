package main

import (
	"github.com/spf13/cobra"

	"NLP-Chain/sdk/go/nlpchain"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var q nlpchain.SearchQuery
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find blocks whose vectors are similar to the query text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Query = args[0]
			c, err := flags.client()
			if err != nil {
				return err
			}
			matches, err := c.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, matches)
		},
	}
	cmd.Flags().StringVar(&q.LedgerID, "ledger", "", "restrict to one ledger")
	cmd.Flags().Float64Var(&q.Threshold, "threshold", 0, "minimum cosine similarity")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum number of matches")
	return cmd
}
