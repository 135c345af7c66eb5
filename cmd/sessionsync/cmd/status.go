package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/session"
)

type statusReport struct {
	State      session.State
	HasToken   bool
	FlagCookie bool
	User       *exchange.User
	UserErr    error
	Voice      *session.VoiceReference
	Backend    string
	ProfileDir string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the profile's session state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openProfile(cfg, logger)
		if err != nil {
			return err
		}
		defer h.Close()

		tab := h.profile.OpenTab(navigator(cmd.ErrOrStderr()))
		defer tab.Close()

		renderStatus(cmd.OutOrStdout(), collectStatus(cmd.Context(), h, tab))
		return nil
	},
}

// collectStatus reads the tab's view of the session. When authenticated the
// account is looked up with the tab's client, so a revoked token expires the
// session here as it would on any other request.
func collectStatus(ctx context.Context, h *profileHandle, tab *session.Tab) statusReport {
	r := statusReport{
		FlagCookie: tab.Store.ReadAuthenticatedFlag(),
		Backend:    cfg.Profile.Backend,
		ProfileDir: cfg.Profile.Dir,
	}
	_, r.HasToken = tab.Store.ReadToken()
	if ref, ok := tab.Store.ReadVoice(); ok {
		r.Voice = &ref
	}

	if tab.Engine.State() == session.StateAuthenticated {
		u, err := h.client.FetchUser(ctx, tab.HTTPClient())
		if err == nil {
			r.User = &u
		} else {
			r.UserErr = err
		}
	}
	r.State = tab.Engine.State()
	return r
}

func renderStatus(w io.Writer, r statusReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("KEY"), text.FgHiCyan.Sprint("VALUE")})

	t.AppendRow(table.Row{"State", stateText(r.State)})
	t.AppendRow(table.Row{"Token", yesNo(r.HasToken)})
	t.AppendRow(table.Row{"Flag cookie", yesNo(r.FlagCookie)})

	switch {
	case r.User != nil:
		name := r.User.Email
		if r.User.Name != "" {
			name = r.User.Name + " <" + r.User.Email + ">"
		}
		t.AppendRow(table.Row{"Account", name})
	case errors.Is(r.UserErr, exchange.ErrUnauthorized):
		t.AppendRow(table.Row{"Account", text.FgYellow.Sprint("token rejected")})
	case r.UserErr != nil:
		t.AppendRow(table.Row{"Account", text.FgRed.Sprint(r.UserErr.Error())})
	}

	if r.Voice != nil {
		t.AppendRow(table.Row{"Voice", r.Voice.DisplayName + " (" + r.Voice.Path + ")"})
	} else {
		t.AppendRow(table.Row{"Voice", text.FgHiBlack.Sprint("none")})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Backend", r.Backend})
	if r.ProfileDir != "" {
		t.AppendRow(table.Row{"Profile", r.ProfileDir})
	}
	t.Render()
}

func stateText(s session.State) string {
	switch s {
	case session.StateAuthenticated:
		return text.FgGreen.Sprint(s.String())
	case session.StateUnauthenticated:
		return text.FgYellow.Sprint(s.String())
	default:
		return text.FgHiBlack.Sprint(s.String())
	}
}

func yesNo(b bool) string {
	if b {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgHiBlack.Sprint("no")
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
