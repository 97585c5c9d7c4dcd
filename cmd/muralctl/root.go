package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/mural/internal/cluster"
)

type globalOptions struct {
	node    string
	token   string
	timeout time.Duration
}

func (o *globalOptions) client() *cluster.Client {
	c := cluster.NewClient(o.timeout)
	c.Token = o.token
	return c
}

func (o *globalOptions) url(path string) string {
	return cluster.Endpoint(o.node, path)
}

func (o *globalOptions) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "muralctl",
		Short: "Client for a mural message board node",
		Long: `muralctl logs in, posts and reads messages, and drives the
availability and reconciliation controls of a single mural node.`,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	node := os.Getenv("MURAL_NODE")
	if node == "" {
		node = "http://127.0.0.1:5001"
	}
	root.PersistentFlags().StringVarP(&opts.node, "node", "n", node, "node base URL ($MURAL_NODE)")
	root.PersistentFlags().StringVarP(&opts.token, "token", "t", os.Getenv("MURAL_TOKEN"), "bearer token ($MURAL_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newLoginCmd(opts),
		newPostCmd(opts),
		newMessagesCmd(opts),
		newAvailabilityCmd(opts, "down", "Stop accepting replicated messages"),
		newAvailabilityCmd(opts, "up", "Accept replicated messages again and reconcile"),
		newReconcileCmd(opts),
		newPeersCmd(opts),
	)
	return root
}
