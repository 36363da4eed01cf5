// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the PDF directory and ingest new documents",
	Long: `Watch starts the pipeline workers and a filesystem monitor over the
PDF directory. A dropped PDF is ingested once its size stops changing,
and the startup scan picks up documents that arrived while thoth was not
running. Stop with Ctrl-C; in-flight documents finish before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withMonitor(); err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := s.pipe.Recover(ctx); err != nil {
			return err
		}

		s.pipe.Start(ctx)
		if err := s.mon.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watching %s with %d workers (Ctrl-C to stop)\n",
			s.cfg.PDFDir(), s.pipe.Workers())

		<-ctx.Done()
		s.mon.Wait()
		s.pipe.Wait()
		fmt.Fprintln(cmd.OutOrStdout(), "stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
