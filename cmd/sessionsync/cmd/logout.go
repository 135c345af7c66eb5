package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/session"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session in every tab and process of the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openProfile(cfg, logger)
		if err != nil {
			return err
		}
		defer h.Close()

		tab := h.profile.OpenTab(navigator(cmd.ErrOrStderr()))
		defer tab.Close()

		runLogout(tab, cmd.OutOrStdout())
		return nil
	},
}

func runLogout(tab *session.Tab, w io.Writer) {
	was := tab.Engine.State()
	tab.Engine.Logout()
	if was != session.StateAuthenticated {
		fmt.Fprintf(w, "%s Not logged in; local session state cleared.\n", text.FgYellow.Sprint("!"))
		return
	}
	fmt.Fprintf(w, "%s Logged out.\n", text.FgGreen.Sprint("✓"))
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
