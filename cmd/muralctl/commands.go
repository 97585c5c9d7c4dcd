package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/mural/internal/board"
	"github.com/dreamware/mural/internal/cluster"
)

func newLoginCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Log in and print a bearer token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			var resp cluster.LoginResponse
			req := cluster.LoginRequest{Username: args[0], Password: args[1]}
			if err := opts.client().PostJSON(ctx, opts.url("/login"), req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
}

func newPostCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "post <text>...",
		Short: "Publish a message (requires --token)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				return errors.New("a token is required; run login first")
			}
			ctx, cancel := opts.context()
			defer cancel()
			text := strings.Join(args, " ")
			var resp cluster.PostResponse
			if err := opts.client().PostJSON(ctx, opts.url("/post"), cluster.PostRequest{Text: &text}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %s\n", resp.Message.ID)
			return nil
		},
	}
}

func newMessagesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "List the node's messages in timestamp order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			var resp cluster.MessagesResponse
			if err := opts.client().GetJSON(ctx, opts.url("/messages"), &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range resp.Messages {
				fmt.Fprintf(out, "%-14s %s@%s: %s\n", when(m.Timestamp), m.User, m.NodeID, m.Text)
			}
			fmt.Fprintf(out, "%s messages\n", humanize.Comma(int64(len(resp.Messages))))
			return nil
		},
	}
}

// when renders a message timestamp relative to now, or verbatim if it
// does not parse.
func when(ts string) string {
	t, err := time.Parse(board.TimestampLayout, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func newAvailabilityCmd(opts *globalOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			var resp cluster.StatusResponse
			if err := opts.client().PostJSON(ctx, opts.url("/simulate_fail"), cluster.AvailabilityRequest{Action: action}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return nil
		},
	}
}

func newReconcileCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Pull missing messages from every peer now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			var resp cluster.ReconcileResponse
			if err := opts.client().PostJSON(ctx, opts.url("/reconcile"), struct{}{}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d\n", resp.Added)
			return nil
		},
	}
}

func newPeersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List the node's configured peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			var resp cluster.PeersResponse
			if err := opts.client().GetJSON(ctx, opts.url("/peers"), &resp); err != nil {
				return err
			}
			for _, p := range resp.Peers {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
