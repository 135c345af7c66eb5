package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/session"
)

type registerOptions struct {
	Email string
	Name  string
	Login bool
}

var registerOpts registerOptions

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the identity service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openProfile(cfg, logger)
		if err != nil {
			return err
		}
		defer h.Close()

		tab := h.profile.OpenTab(navigator(cmd.ErrOrStderr()))
		defer tab.Close()

		return runRegister(cmd.Context(), h, tab, newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()), cmd.OutOrStdout(), registerOpts)
	},
}

func runRegister(ctx context.Context, h *profileHandle, tab *session.Tab, p *prompter, w io.Writer, opts registerOptions) error {
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
	confirm, err := p.secret("Confirm password: ")
	if err != nil {
		return err
	}
	defer confirm.Destroy()
	if !password.EqualTo(confirm.Bytes()) {
		return errors.New("passwords do not match")
	}

	user, err := withSpinner(p.out, "Creating account...", func() registerResult {
		u, err := h.client.Register(ctx, exchange.RegisterRequest{
			Email:    email,
			Name:     opts.Name,
			Password: password.String(),
		})
		return registerResult{u, err}
	}).unpack()
	if errors.Is(err, exchange.ErrAlreadyRegistered) {
		return fmt.Errorf("%s is already registered", email)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Registered %s.\n", text.FgGreen.Sprint("✓"), user.Email)

	if !opts.Login {
		return nil
	}
	out := tab.Engine.Login(ctx, email, password.String())
	if !out.OK() {
		return fmt.Errorf("%s: %w", out.Message(), out.Err())
	}
	fmt.Fprintf(w, "%s Logged in.\n", text.FgGreen.Sprint("✓"))
	return nil
}

type registerResult struct {
	user exchange.User
	err  error
}

func (r registerResult) unpack() (exchange.User, error) { return r.user, r.err }

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringVarP(&registerOpts.Email, "email", "e", "", "Account email")
	registerCmd.Flags().StringVar(&registerOpts.Name, "name", "", "Display name")
	registerCmd.Flags().BoolVar(&registerOpts.Login, "login", false, "Log in after registering")
}
