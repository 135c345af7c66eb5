package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionsync/internal/config"
)

var (
	configPath  string
	envFile     string
	identityURL string
	origin      string
	profileDir  string
	backendName string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sessionsync",
	Short: "sessionsync keeps a client's login state consistent",
	Long: `Session reconciliation for the TTS client: log in and out against the
identity service, share the session between tabs and processes of a profile,
and serve the OAuth redirect bridge.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("identity-url") {
			c.IdentityURL = identityURL
		}
		if flags.Changed("origin") {
			c.Origin = origin
		}
		if flags.Changed("profile-dir") {
			c.Profile.Dir = profileDir
		}
		if flags.Changed("backend") {
			c.Profile.Backend = backendName
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: c.Level()}))
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.config/sessionsync/config.yaml)")
	pf.StringVar(&envFile, "env-file", "", "Path to a .env file (default ./.env)")
	pf.StringVar(&identityURL, "identity-url", "", "Base URL of the identity service")
	pf.StringVar(&origin, "origin", "", "Application origin the session cookie belongs to")
	pf.StringVar(&profileDir, "profile-dir", "", "Directory holding the profile's durable state")
	pf.StringVar(&backendName, "backend", "", "Profile storage backend: file, bbolt or memory")
}
