// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Poll catalog sources for papers matching research queries",
	Long: `Discover runs every active research query against arXiv, OpenAlex, and
Semantic Scholar, filters the candidates for relevance, and downloads
accepted PDFs into the watched directory, where the pipeline picks them
up. By default it polls once and exits; --loop keeps polling on the
configured interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, _ := cmd.Flags().GetBool("loop")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withDiscovery(); err != nil {
			return err
		}

		ctx := cmd.Context()
		if loop {
			fmt.Fprintf(cmd.OutOrStdout(), "polling every %s (Ctrl-C to stop)\n",
				s.disco.PollInterval())
			return s.disco.Run(ctx)
		}

		rep, err := s.disco.PollOnce(ctx)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%d queries polled, %d candidates (%d duplicate, %d already known)\n",
			rep.Queries, rep.Candidates, rep.Duplicates, rep.Known)
		fmt.Fprintf(w, "%d accepted, %d rejected, %d downloaded, %d failed\n",
			rep.Accepted, rep.Rejected, rep.Downloaded, rep.Failed)
		return nil
	},
}

func init() {
	discoverCmd.Flags().Bool("loop", false, "keep polling on the configured interval")

	rootCmd.AddCommand(discoverCmd)
}
