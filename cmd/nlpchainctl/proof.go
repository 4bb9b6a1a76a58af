package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/proof"
)

func newProofCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "proof", Short: "Submit and inspect proofs of work"}

	var nonce uint64
	submit := &cobra.Command{
		Use:   "submit <data-hash>",
		Short: "Submit a data hash with at least three leading zero bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hashchain.ParseHash(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			p, err := c.SubmitProof(cmd.Context(), h, nonce)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	submit.Flags().Uint64Var(&nonce, "nonce", 0, "nonce recorded with the proof")

	get := &cobra.Command{
		Use:   "get <owner> <timestamp>",
		Short: "Fetch one proof",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseProofKey(args[0], args[1])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			p, err := c.GetProof(cmd.Context(), key.Owner, key.Timestamp)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list <owner>",
		Short: "List the most recent proofs of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			proofs, err := c.ListProofs(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, proofs)
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of proofs")

	verify := &cobra.Command{
		Use:   "verify <prev-owner> <prev-timestamp> <owner> <timestamp>",
		Short: "Check that two stored proofs form a valid link",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := parseProofKey(args[0], args[1])
			if err != nil {
				return err
			}
			curr, err := parseProofKey(args[2], args[3])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			if err := c.VerifyChain(cmd.Context(), prev, curr); err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"valid": true})
		},
	}

	cmd.AddCommand(submit, get, list, verify)
	return cmd
}

func parseProofKey(owner, timestamp string) (proof.Key, error) {
	addr, err := identity.Parse(owner)
	if err != nil {
		return proof.Key{}, err
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return proof.Key{}, err
	}
	return proof.Key{Owner: addr, Timestamp: ts}, nil
}
