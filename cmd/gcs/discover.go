package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rttgcs/internal/discovery"
)

var discoverTimeout = 5 * time.Second

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Browse the local network for simulated payload endpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true

		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()

		endpoints, err := discovery.Browse(ctx)
		if err != nil {
			return err
		}
		if len(endpoints) == 0 {
			cmd.Println("no payloads found")

			return nil
		}

		for _, ep := range endpoints {
			cmd.Println(fmt.Sprintf("%s\t%s", ep.Instance, ep.Addr()))
		}

		return nil
	},
}
