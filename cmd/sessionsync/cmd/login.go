package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/session"
)

type loginOptions struct {
	Email       string
	GoogleToken string
	Code        string
}

var loginOpts loginOptions

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session in the profile",
	Long: `Log in with email and password (prompted when not given), with a Google
ID token (--google-token), or with an authorization code from the provider
redirect (--code). Every tab and process sharing the profile picks the new
session up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openProfile(cfg, logger)
		if err != nil {
			return err
		}
		defer h.Close()

		tab := h.profile.OpenTab(navigator(cmd.ErrOrStderr()))
		defer tab.Close()

		return runLogin(cmd.Context(), h, tab, newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()), cmd.OutOrStdout(), loginOpts)
	},
}

func runLogin(ctx context.Context, h *profileHandle, tab *session.Tab, p *prompter, w io.Writer, opts loginOptions) error {
	if tab.Engine.State() == session.StateAuthenticated {
		fmt.Fprintf(w, "%s Already logged in.\n", text.FgGreen.Sprint("✓"))
		return nil
	}

	var out exchange.Outcome
	switch {
	case opts.Code != "":
		out = withSpinner(p.out, "Exchanging authorization code...", func() exchange.Outcome {
			return h.client.ExchangeOAuthCode(ctx, opts.Code)
		})
		if out.OK() {
			if err := tab.Engine.AdoptToken(out.Token); err != nil {
				return fmt.Errorf("storing session: %w", err)
			}
		}

	case opts.GoogleToken != "":
		out = withSpinner(p.out, "Signing in with Google...", func() exchange.Outcome {
			return tab.Engine.LoginWithGoogle(ctx, opts.GoogleToken)
		})

	default:
		email := opts.Email
		if email == "" {
			var err error
			if email, err = p.line("Email: "); err != nil {
				return err
			}
		}
		password, err := p.secret("Password: ")
		if err != nil {
			return err
		}
		defer password.Destroy()

		out = withSpinner(p.out, "Logging in...", func() exchange.Outcome {
			return tab.Engine.Login(ctx, email, password.String())
		})
	}

	if !out.OK() {
		return fmt.Errorf("%s: %w", out.Message(), out.Err())
	}
	fmt.Fprintf(w, "%s Logged in.\n", text.FgGreen.Sprint("✓"))
	return nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginOpts.Email, "email", "e", "", "Account email")
	loginCmd.Flags().StringVar(&loginOpts.GoogleToken, "google-token", "", "Google ID token to exchange")
	loginCmd.Flags().StringVar(&loginOpts.Code, "code", "", "Authorization code from the provider redirect")
	loginCmd.MarkFlagsMutuallyExclusive("email", "google-token", "code")
}
