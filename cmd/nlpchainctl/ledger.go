package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"NLP-Chain/sdk/go/nlpchain"
)

func newLedgerCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Manage hash-chained ledgers"}

	initCmd := &cobra.Command{
		Use:   "init [id]",
		Short: "Initialise a ledger owned by the caller",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			state, err := c.CreateLedger(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	}

	state := &cobra.Command{
		Use:   "state <id>",
		Short: "Show the ledger head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			s, err := c.LedgerState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	var (
		vectorRaw string
		metadata  string
	)
	add := &cobra.Command{
		Use:   "add <id> <text>",
		Short: "Append a block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vector, err := parseVector(vectorRaw)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			b, err := c.AddBlock(cmd.Context(), args[0], nlpchain.BlockContent{Text: args[1], Vector: vector, Metadata: metadata})
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}
	add.Flags().StringVar(&vectorRaw, "vector", "", "comma separated vector components")
	add.Flags().StringVar(&metadata, "metadata", "", "opaque metadata string")

	get := &cobra.Command{
		Use:   "get <id> <index>",
		Short: "Fetch one block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			b, err := c.GetBlock(cmd.Context(), args[0], idx)
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	var (
		from  uint64
		limit int
	)
	list := &cobra.Command{
		Use:   "list <id>",
		Short: "Page through blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			blocks, err := c.ListBlocks(cmd.Context(), args[0], from, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, blocks)
		},
	}
	list.Flags().Uint64Var(&from, "from", 0, "first block index")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of blocks")

	vector := &cobra.Command{
		Use:   "vector <id> <index> <v1,v2,...>",
		Short: "Replace the vector of a block",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return err
			}
			v, err := parseVector(args[2])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			b, err := c.UpdateVector(cmd.Context(), args[0], idx, v)
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	verify := &cobra.Command{
		Use:   "verify <id>",
		Short: "Walk the ledger and report the first broken link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			report, err := c.VerifyLedger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("ledger %s is invalid at block %d: %s", args[0], *report.FirstInvalid, report.Reason)
			}
			return nil
		},
	}

	var to uint64
	merkle := &cobra.Command{
		Use:   "merkle <id>",
		Short: "Compute the Merkle root over a block range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			root, err := c.Merkle(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, root)
		},
	}
	merkle.Flags().Uint64Var(&from, "from", 0, "first block index")
	merkle.Flags().Uint64Var(&to, "to", 0, "end of range (exclusive), 0 for the head")

	cmd.AddCommand(initCmd, state, add, get, list, vector, verify, merkle)
	return cmd
}

// parseVector 解析逗号分隔的浮点数，空串返回 nil。
func parseVector(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
