package main

import (
	"fmt"

	"github.com/alexjbarnes/bookstack-sync/internal/reconcile"
	"github.com/spf13/cobra"
)

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <shelf|book|chapter|page> <path>",
		Short: "Delete an item from both the vault and the wiki",
		Long: `Delete an item from the vault and its counterpart from the wiki.

Paths are relative to the vault root:
  shelf    Shelf
  book     Shelf/Book
  chapter  Shelf/Book/Chapter
  page     Shelf/Book/Page or Shelf/Book/Chapter/Page (.md optional)

Deleting a shelf also deletes every book on it. This cannot be undone.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"shelf", "book", "chapter", "page"},
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := reconcile.ParseLevel(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			if err := s.syncer.Delete(ctx, level, args[1]); err != nil {
				return fmt.Errorf("deleting %s: %w", level, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", level, args[1])

			return nil
		},
	}
}
