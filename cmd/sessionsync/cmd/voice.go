package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/session"
)

var voiceName string

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Manage the voice sample reference of the current session",
}

var voiceSetCmd = &cobra.Command{
	Use:   "set <path>",
	Short: "Record an uploaded voice sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(cmd, func(tab *session.Tab) error {
			return runVoiceSet(tab, cmd.OutOrStdout(), args[0], voiceName)
		})
	},
}

var voiceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the recorded voice sample",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(cmd, func(tab *session.Tab) error {
			runVoiceShow(tab, cmd.OutOrStdout())
			return nil
		})
	},
}

var voiceRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Forget the recorded voice sample in every tab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(cmd, func(tab *session.Tab) error {
			if err := tab.Voice.Remove(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Voice removed.\n", text.FgGreen.Sprint("✓"))
			return nil
		})
	},
}

func withTab(cmd *cobra.Command, fn func(tab *session.Tab) error) error {
	h, err := openProfile(cfg, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	tab := h.profile.OpenTab(navigator(cmd.ErrOrStderr()))
	defer tab.Close()
	return fn(tab)
}

func runVoiceSet(tab *session.Tab, w io.Writer, path, name string) error {
	if name == "" {
		name = filepath.Base(path)
	}
	err := tab.Voice.Record(session.VoiceReference{Path: path, DisplayName: name})
	if errors.Is(err, session.ErrNotAuthenticated) {
		return errors.New("log in before recording a voice sample")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Voice set to %s.\n", text.FgGreen.Sprint("✓"), name)
	return nil
}

func runVoiceShow(tab *session.Tab, w io.Writer) {
	ref, ok := tab.Voice.Current()
	if !ok {
		fmt.Fprintln(w, text.FgHiBlack.Sprint("No voice recorded."))
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", ref.DisplayName, ref.Path)
}

func init() {
	rootCmd.AddCommand(voiceCmd)
	voiceCmd.AddCommand(voiceSetCmd, voiceShowCmd, voiceRemoveCmd)
	voiceSetCmd.Flags().StringVar(&voiceName, "name", "", "Display name (default: file name)")
}
