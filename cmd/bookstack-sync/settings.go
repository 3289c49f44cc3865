package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/config"
	"github.com/alexjbarnes/bookstack-sync/internal/reconcile"
	"github.com/alexjbarnes/bookstack-sync/internal/state"
	"github.com/spf13/cobra"
)

func newSettingsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change saved file locations",
	}

	cmd.AddCommand(
		newSetLocationCmd(flags, "config", "Save the wiki config file location", (*state.State).SetConfigLocation),
		newSetLocationCmd(flags, "env", "Save the env file location", (*state.State).SetEnvLocation),
		newShowSettingsCmd(flags),
	)

	return cmd
}

func newSetLocationCmd(flags *rootFlags, name, short string, set func(*state.State, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving %s: %w", args[0], err)
			}

			st, err := flags.openState()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := set(st, path); err != nil {
				return fmt.Errorf("saving %s location: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s location set to %s\n", name, path)

			return nil
		},
	}
}

func newShowSettingsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print saved file locations and the last completed passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := flags.openState()
			if err != nil {
				return err
			}
			defer st.Close()

			return showSettings(cmd.OutOrStdout(), st)
		},
	}
}

func showSettings(w io.Writer, st *state.State) error {
	saved := st.Settings()

	configLocation := saved.ConfigLocation
	if configLocation == "" {
		def, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}

		configLocation = def + " (default)"
	}

	envLocation := saved.EnvLocation
	if envLocation == "" {
		envLocation = ".env (default)"
	}

	fmt.Fprintf(w, "config location: %s\n", configLocation)
	fmt.Fprintf(w, "env location:    %s\n", envLocation)

	for _, direction := range []string{reconcile.DirectionRemote.String(), reconcile.DirectionLocal.String(), updateDirection} {
		rec, err := st.LastSync(direction)
		if err != nil {
			return fmt.Errorf("reading last %s pass: %w", direction, err)
		}

		if rec == nil {
			fmt.Fprintf(w, "last %-7s never\n", direction+":")
			continue
		}

		fmt.Fprintf(w, "last %-7s %s (%d created, %d updated, %d skipped)\n",
			direction+":", rec.Finished.Local().Format(time.RFC3339), rec.Created, rec.Updated, rec.Skipped)
	}

	return nil
}
