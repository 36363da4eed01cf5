// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/discovery"
	"github.com/pdiddy/thoth/pkg/types"
)

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Manage the research queries discovery polls for",
}

var queriesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create or update a research query",
	Long: `Add registers a standing research interest. Keywords drive the cheap
pre-filter; the rubric guides the model when keywords alone cannot
decide. Adding a name that already exists updates it in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		keywords, _ := cmd.Flags().GetStringSlice("keywords")
		rubric, _ := cmd.Flags().GetString("rubric")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		name := strings.TrimSpace(args[0])
		q := types.ResearchQuery{
			ID:          types.QueryID(name),
			Name:        name,
			Description: description,
			Keywords:    keywords,
			Rubric:      rubric,
			Threshold:   threshold,
			Active:      true,
		}
		if err := s.store.SaveQuery(cmd.Context(), q); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved query %q (%s)\n", q.Name, q.ID)
		return nil
	},
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		queries, err := s.store.ListQueries(cmd.Context(), activeOnly)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, queries)
		}
		if len(queries) == 0 {
			fmt.Fprintln(w, "no research queries")
			return nil
		}
		for _, q := range queries {
			state := "active"
			if !q.Active {
				state = "disabled"
			}
			fmt.Fprintf(w, "%-24s  %-8s  %s\n", q.Name, state,
				snippet(strings.Join(q.Keywords, ", "), 80))
		}
		return nil
	},
}

var queriesEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Resume polling a research query",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setQueryActive(cmd, args[0], true) },
}

var queriesDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Stop polling a research query without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setQueryActive(cmd, args[0], false) },
}

func setQueryActive(cmd *cobra.Command, name string, active bool) error {
	s, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.SetQueryActive(cmd.Context(), name, active); err != nil {
		return err
	}
	state := "enabled"
	if !active {
		state = "disabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s query %q\n", state, name)
	return nil
}

var queriesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a research query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.store.DeleteQuery(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted query %q\n", args[0])
		return nil
	},
}

var queriesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a research query from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		q, err := discovery.ImportQuery(cmd.Context(), s.store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported query %q (%s)\n", q.Name, q.ID)
		return nil
	},
}

var queriesExportCmd = &cobra.Command{
	Use:   "export <name> <file.yaml>",
	Short: "Export a research query to a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := discovery.ExportQuery(cmd.Context(), s.store, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported query %q to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	queriesAddCmd.Flags().String("description", "", "natural-language statement of the interest")
	queriesAddCmd.Flags().StringSlice("keywords", nil, "keywords for the pre-filter (repeatable)")
	queriesAddCmd.Flags().String("rubric", "", "free-text criteria for the model filter")
	queriesAddCmd.Flags().Float64("threshold", 0, "minimum relevance score to accept (0 = default)")

	queriesListCmd.Flags().Bool("active", false, "list only active queries")
	queriesListCmd.Flags().Bool("json", false, "output queries as JSON")

	queriesCmd.AddCommand(queriesAddCmd, queriesListCmd, queriesEnableCmd,
		queriesDisableCmd, queriesDeleteCmd, queriesImportCmd, queriesExportCmd)
	rootCmd.AddCommand(queriesCmd)
}
