package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hublinks/hublinks/pkg/pages"
)

func newPagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Manage the page hierarchy",
	}

	importCmd := &cobra.Command{
		Use:   "import <manifest>",
		Short: "Import pages from a YAML or JSON manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := pages.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Import(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d pages.\n", n)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := pages.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pages found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPARENT\tSTATUS\tORDER\tTITLE\tPATH")
			for _, p := range list {
				fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s\n", p.ID, p.ParentID, p.Status, p.MenuOrder, p.Title, p.Path)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}
