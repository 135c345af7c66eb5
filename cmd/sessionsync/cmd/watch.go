package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the profile's session state",
	Long: `Open a long-lived tab and print every state change, including those made
by other processes sharing the profile. Commands on stdin:

  (empty line)  the window regained focus
  refresh       re-read the session from storage
  logout        log out everywhere
  quit          exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, err := openProfile(cfg, logger)
		if err != nil {
			return err
		}
		defer h.Close()
		if err := h.watch(ctx); err != nil {
			return err
		}

		tab := h.profile.OpenTab(navigator(cmd.ErrOrStderr()))
		defer tab.Close()

		return runWatch(ctx, tab, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runWatch(ctx context.Context, tab *session.Tab, in io.Reader, w io.Writer) error {
	var mu sync.Mutex
	printf := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, a...)
	}

	printf("state: %s\n", stateText(tab.Engine.State()))
	cancelState := tab.Engine.Subscribe(func(s session.State) {
		printf("%s state: %s\n", time.Now().Format(time.TimeOnly), stateText(s))
	})
	defer cancelState()
	cancelVoice := tab.Invalidator.OnLogoutOrRemoval(func() {
		printf("%s voice reference cleared\n", time.Now().Format(time.TimeOnly))
	})
	defer cancelVoice()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep following until interrupted.
				lines = nil
				continue
			}
			switch strings.TrimSpace(line) {
			case "":
				tab.Bus.FocusRegained()
			case "refresh":
				tab.Engine.RefreshAuthState()
			case "logout":
				tab.Engine.Logout()
			case "quit", "exit":
				return nil
			default:
				printf("unknown command %q\n", line)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
