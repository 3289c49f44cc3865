package main

import (
	"fmt"

	"github.com/alexjbarnes/bookstack-sync/internal/reconcile"
	"github.com/spf13/cobra"
)

// updateDirection is the state key for content update passes.
const updateDirection = "update"

func newSyncCmd(flags *rootFlags) *cobra.Command {
	var remote, local bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create missing shelves, books, chapters and pages",
		Long: `Create on each side the shelves, books, chapters and pages that only
exist on the other side. Existing pages are not modified; use update for
that.

With neither --remote nor --local both directions run, pushing first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			push, pull := directions(remote, local)

			s, err := openSession(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			if push {
				res, err := s.syncer.SyncRemote(ctx)
				if err != nil {
					return fmt.Errorf("syncing to wiki: %w", err)
				}

				s.record(reconcile.DirectionRemote.String(), res)
				printResult(cmd.OutOrStdout(), reconcile.DirectionRemote.String(), res)
			}

			if pull {
				res, err := s.syncer.SyncLocal(ctx)
				if err != nil {
					return fmt.Errorf("syncing to vault: %w", err)
				}

				s.record(reconcile.DirectionLocal.String(), res)
				printResult(cmd.OutOrStdout(), reconcile.DirectionLocal.String(), res)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "create vault items missing from the wiki")
	cmd.Flags().BoolVar(&local, "local", false, "create wiki items missing from the vault")

	return cmd
}

func newUpdateCmd(flags *rootFlags) *cobra.Command {
	var remote, local bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Copy page content to whichever side is older",
		Long: `Compare every vault page with its wiki page and copy the newer content
over the older one. Timestamps within 5 seconds of each other count as
equal.

--remote only pushes vault changes, --local only pulls wiki changes.
With neither flag both are allowed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			push, pull := directions(remote, local)

			s, err := openSession(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			res, err := s.syncer.UpdateContent(ctx, push, pull)
			if err != nil {
				return fmt.Errorf("updating content: %w", err)
			}

			s.record(updateDirection, res)
			printResult(cmd.OutOrStdout(), updateDirection, res)

			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "push newer vault pages to the wiki")
	cmd.Flags().BoolVar(&local, "local", false, "pull newer wiki pages into the vault")

	return cmd
}
