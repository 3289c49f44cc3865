package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	"github.com/alexjbarnes/bookstack-sync/internal/config"
	"github.com/alexjbarnes/bookstack-sync/internal/logging"
	"github.com/alexjbarnes/bookstack-sync/internal/reconcile"
	"github.com/alexjbarnes/bookstack-sync/internal/state"
	"github.com/alexjbarnes/bookstack-sync/internal/vault"
	"github.com/spf13/cobra"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configFile string
	envFile    string
	stateFile  string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "bookstack-sync",
		Short: "Keep an Obsidian vault and a Bookstack wiki in sync",
		Long: `bookstack-sync mirrors an Obsidian vault into a Bookstack wiki and back.

Top-level vault directories are shelves, their subdirectories books, the
books' subdirectories chapters, and markdown files pages. Credentials are
read from the environment (or an env file); the vault location and the
excluded shelves are read from a TOML config file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "wiki config file (default ~/.config/obsidian_to_bookstack/conf.toml)")
	pf.StringVar(&flags.envFile, "env-file", "", "env file holding API credentials (default ./.env)")
	pf.StringVar(&flags.stateFile, "state-file", "", "settings database (default ~/.config/obsidian_to_bookstack/data/settings.db)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newSyncCmd(&flags),
		newUpdateCmd(&flags),
		newDeleteCmd(&flags),
		newSettingsCmd(&flags),
	)

	return root
}

func (f *rootFlags) openState() (*state.State, error) {
	var (
		st  *state.State
		err error
	)

	if f.stateFile != "" {
		st, err = state.LoadAt(f.stateFile)
	} else {
		st, err = state.Load()
	}

	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	return st, nil
}

// session is everything a sync, update or delete command needs.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	state  *state.State
	syncer *reconcile.Syncer
}

// openSession loads settings and configuration and wires the vault, the
// API client and the syncer. Flags take precedence over the file
// locations saved with the settings command.
func openSession(flags *rootFlags) (*session, error) {
	st, err := flags.openState()
	if err != nil {
		return nil, err
	}

	s, err := newSession(flags, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	return s, nil
}

func newSession(flags *rootFlags, st *state.State) (*session, error) {
	saved := st.Settings()

	opts := config.Options{EnvFile: saved.EnvLocation, ConfigFile: saved.ConfigLocation}
	if flags.envFile != "" {
		opts.EnvFile = flags.envFile
	}

	if flags.configFile != "" {
		opts.ConfigFile = flags.configFile
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, flags.verbose)

	client, err := bookstack.NewClient(cfg.BaseURL, cfg.TokenID, cfg.TokenSecret, bookstack.NewHTTPClient(cfg.HTTPTimeout))
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.Wiki.Path)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	logger.Debug("session ready",
		slog.String("version", Version),
		slog.String("vault", cfg.Wiki.Path),
		slog.String("wiki", cfg.BaseURL),
		slog.Int("excluded_shelves", len(cfg.ExcludedShelves())),
	)

	syncer := reconcile.NewSyncer(v, client, reconcile.Options{
		Excluded:         cfg.ExcludedShelves(),
		FetchConcurrency: cfg.FetchConcurrency,
		Logger:           logger,
	})

	return &session{cfg: cfg, logger: logger, state: st, syncer: syncer}, nil
}

func (s *session) Close() error {
	return s.state.Close()
}

// record saves a completed pass. Failing to record never fails the pass.
func (s *session) record(direction string, res reconcile.Result) {
	rec := state.SyncRecord{
		Direction: direction,
		Finished:  time.Now().UTC(),
		Created:   res.Created,
		Updated:   res.Updated,
		Skipped:   res.Skipped,
	}

	if err := s.state.RecordSync(rec); err != nil {
		s.logger.Warn("failed to record sync pass", slog.String("direction", direction), slog.String("error", err.Error()))
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// directions maps the --remote/--local flags to push/pull. Neither flag
// means both.
func directions(remote, local bool) (push, pull bool) {
	if !remote && !local {
		return true, true
	}

	return remote, local
}

func printResult(w io.Writer, label string, res reconcile.Result) {
	fmt.Fprintf(w, "%s: %d created, %d updated, %d skipped\n", label, res.Created, res.Updated, res.Skipped)
}
