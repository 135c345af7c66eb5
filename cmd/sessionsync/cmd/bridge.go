package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jmcleod/sessionsync/api"
	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/internal/config"
)

var (
	listenAddr string
	tlsCert    string
	tlsKey     string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve the OAuth redirect bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.Bridge.Listen = listenAddr
		}

		server := &http.Server{
			Addr:              cfg.Bridge.Listen,
			Handler:           newBridgeRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		if tlsCert != "" || tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting bridge on %s (identity: %s)...\n", cfg.Bridge.Listen, cfg.IdentityURL)
		if !cfg.GoogleEnabled() {
			fmt.Println("Google client ID not configured; /api/auth/google is disabled")
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func newBridgeRouter(c config.Config) http.Handler {
	client := exchange.New(c.IdentityURL, exchange.WithLogger(logger))

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithLoginPath(c.LoginPath),
		api.WithHomePath(c.Bridge.HomePath),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("bridge alert", "type", e.Type, "message", e.Message, "count", e.Count, "threshold", e.Threshold)
		}),
	}
	if oc := oauthConfig(c); oc != nil {
		opts = append(opts, api.WithOAuthConfig(oc))
	}
	b := api.New(client, opts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)
	r.Mount("/", b.Router())
	return r
}

func oauthConfig(c config.Config) *oauth2.Config {
	if !c.GoogleEnabled() {
		return nil
	}
	redirect := c.Bridge.GoogleRedirectURL
	if redirect == "" {
		redirect = strings.TrimRight(c.Origin, "/") + "/api/auth/google-redirect"
	}
	return &oauth2.Config{
		ClientID:     c.Bridge.GoogleClientID,
		ClientSecret: c.Bridge.GoogleClientSecret,
		RedirectURL:  redirect,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (default from config, 127.0.0.1:3000)")
	bridgeCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	bridgeCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
