package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/ui"
)

func newAuthCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Token authentication",
		Long: `Sign in with a token to keep your tasks in your remote document.

The token can also be provided by the TADA_TOKEN environment variable,
which takes precedence over the stored one.`,
		Args: positionalArgs(cobra.NoArgs),
	}
	cmd.AddCommand(
		&cobra.Command{Use: "login", Short: "Store a token", Args: positionalArgs(cobra.NoArgs), RunE: app.authLogin},
		&cobra.Command{Use: "logout", Short: "Delete the stored token", Args: positionalArgs(cobra.NoArgs), RunE: app.authLogout},
		&cobra.Command{Use: "status", Short: "Show where the token comes from", Args: positionalArgs(cobra.NoArgs), RunE: app.authStatus},
		&cobra.Command{Use: "whoami", Short: "Show the account the token belongs to", Args: positionalArgs(cobra.NoArgs), RunE: app.authWhoAmI},
	)
	return cmd
}

func (a *App) authLogin(cmd *cobra.Command, _ []string) error {
	token, err := readToken(cmd)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return usagef("login: empty token")
	}
	if err := a.creds.Set(token, nil); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	ui.OK(cmd.OutOrStdout(), "logged in as "+auth.Identity(strings.TrimSpace(token)))
	return nil
}

// readToken reads a line from stdin, without echo when it is a terminal.
func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "Paste your token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *App) authLogout(cmd *cobra.Command, _ []string) error {
	ti, _ := a.creds.Get()
	if ti != nil && ti.Source == "env" {
		ui.OK(cmd.OutOrStdout(), "token is provided by "+auth.EnvToken+" env var (nothing to delete)")
		return nil
	}
	if err := a.creds.Delete(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	ui.OK(cmd.OutOrStdout(), "logged out")
	return nil
}

func (a *App) authStatus(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ti, err := a.creds.Get()
	if err != nil {
		return err
	}
	if ti == nil {
		ui.Hint(w, "not logged in")
		fmt.Fprintln(w, "Run: tada auth login")
		return nil
	}
	fmt.Fprintf(w, "identity: %s\n", auth.Identity(ti.Token))
	fmt.Fprintf(w, "source: %s\n", ti.Source)
	if ti.ExpiresAt != nil {
		state := ""
		if ti.Expired(time.Now()) {
			state = " (expired)"
		}
		fmt.Fprintf(w, "expires: %s%s\n", ti.ExpiresAt.UTC().Format(time.RFC3339), state)
	} else {
		fmt.Fprintln(w, "expires: (unknown)")
	}
	fmt.Fprintf(w, "server: %s\n", a.cfg.ServerURL)
	fmt.Fprintf(w, "env override: %s\n", auth.EnvToken)
	return nil
}

// whoami decodes a JWT locally (unsigned); opaque tokens print basic info.
func (a *App) authWhoAmI(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ti, err := a.creds.Get()
	if err != nil {
		return err
	}
	if ti == nil {
		return usagef("not logged in. Run: tada auth login")
	}
	fmt.Fprintf(w, "identity: %s\n", auth.Identity(ti.Token))
	if claims, ok := auth.DecodeClaims(ti.Token); ok {
		b, err := json.MarshalIndent(claims, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "JWT payload:")
		fmt.Fprintln(w, string(b))
		return nil
	}
	fmt.Fprintln(w, "Opaque token (cannot introspect locally).")
	fmt.Fprintln(w, "source:", ti.Source)
	return nil
}
