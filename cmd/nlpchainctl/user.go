package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"NLP-Chain/internal/identity"
	"NLP-Chain/sdk/go/nlpchain"
)

func newUserCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage user profiles and interactions"}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the caller's profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			p, err := c.CreateUser(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}

	get := &cobra.Command{
		Use:   "get <owner>",
		Short: "Show a profile",
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
			p, err := c.GetUser(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}

	status := &cobra.Command{
		Use:   "status <owner> <true|false>",
		Short: "Set the active flag of a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			active, err := strconv.ParseBool(args[1])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			p, err := c.UpdateUserStatus(cmd.Context(), owner, active)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}

	transfer := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Process a token interaction owned by the caller",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			to, err := identity.Parse(args[1])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			owner, _ := c.Caller()
			receipt, err := c.ProcessInteraction(cmd.Context(), nlpchain.Interaction{From: from, To: to, Owner: owner, Amount: amount})
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}

	cmd.AddCommand(initCmd, get, status, transfer)
	return cmd
}
