package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func waitlistCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waitlist",
		Short: "Early access waitlist",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of waitlist signups",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, done, err := g.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			n, err := cl.Social.WaitlistCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}, &cobra.Command{
		Use:   "join <email>",
		Short: "Add an address to the waitlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, done, err := g.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			res, err := cl.Social.JoinWaitlist(cmd.Context(), args[0]).Wait(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	})
	return cmd
}
