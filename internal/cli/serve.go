package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/docserver"
)

func newServeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the document server signed-in clients sync with",
		Args:  positionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := docserver.OpenStore(app.cfg.DB)
			if err != nil {
				return fmt.Errorf("open %s: %w", app.cfg.DB, err)
			}
			defer st.Close()

			app.logger.Info("serving documents", "addr", app.cfg.Listen, "db", app.cfg.DB)
			if app.cfg.TokenSecret == "" {
				app.logger.Warn("no token_secret configured, signed tokens will be refused")
			}
			return docserver.New(st, app.logger).WithTokenSecret(app.cfg.TokenSecret).Run(cmd.Context(), app.cfg.Listen)
		},
	}
	cmd.Flags().String("listen", "", "address to listen on (default :8080)")
	cmd.Flags().String("db", "", "sqlite database path (default ~/.tada/docs.db)")
	return cmd
}
