package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/logging"
	"github.com/Makepad-fr/tada/internal/ui"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Theme   string
	Color   bool
	NoColor bool
}

// App is the state shared by every command once flags and config are resolved.
type App struct {
	streams Streams
	opts    RootOptions
	v       *viper.Viper
	cfg     config.Config
	logger  *slog.Logger
	closer  io.Closer
	creds   *auth.Credentials
}

// Close releases the log file.
func (a *App) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// NewRootCommand creates the root command for the tada CLI.
func NewRootCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tada",
		Short: "tada - tasks and notes, local or synced",
		Long: `tada keeps a task list and notes in ~/.tada while you are signed out,
and in your remote document once you sign in with 'tada auth login'.

Run 'tada ls' in a terminal for the interactive list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	// Global flags
	pf := cmd.PersistentFlags()
	pf.String("data-dir", "", "directory for guest data (default ~/.tada)")
	pf.String("server", "", "document server URL for signed-in sessions")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.StringVar(&app.opts.Theme, "theme", "classic", "color theme (classic|neon|mono)")
	pf.BoolVar(&app.opts.Color, "color", false, "force colored output")
	pf.BoolVar(&app.opts.NoColor, "no-color", false, "disable colored output")

	// Add subcommands
	cmd.AddCommand(newAddCommand(app))
	cmd.AddCommand(newListCommand(app))
	cmd.AddCommand(newDoneCommand(app))
	cmd.AddCommand(newEditCommand(app))
	cmd.AddCommand(newRemoveCommand(app))
	cmd.AddCommand(newClearCommand(app))
	cmd.AddCommand(newNoteCommand(app))
	cmd.AddCommand(newAuthCommand(app))
	cmd.AddCommand(newServeCommand(app))
	return cmd
}

func (a *App) setup(cmd *cobra.Command) error {
	if err := ui.SetTheme(a.opts.Theme); err != nil {
		return usageError{err}
	}
	ui.SetColorForcing(a.opts.Color, a.opts.NoColor)

	v, err := config.New()
	if err != nil {
		return err
	}
	for key, flag := range map[string]string{
		config.KeyDataDir:   "data-dir",
		config.KeyServerURL: "server",
		config.KeyLogLevel:  "log-level",
		config.KeyListen:    "listen",
		config.KeyDB:        "db",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind %s: %w", flag, err)
			}
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.v, a.cfg = v, cfg
	a.creds = auth.NewCredentials(cfg.Home)

	if cmd.Name() == "serve" {
		a.logger = logging.Stderr(cfg.LogLevel)
	} else {
		logger, closer, err := logging.File(cfg.LogFile, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		a.logger, a.closer = logger, closer
	}
	slog.SetDefault(a.logger)
	return nil
}
