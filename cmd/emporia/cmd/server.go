package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmcleod/emporia/web"
)

var (
	tlsCert string
	tlsKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the storefront views over HTTP",
	Long: `Serves the catalog, cart, login and checkout views as JSON. Restricted
views answer 303 See Other to /login when no session is present. API docs are
served at /docs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tlsCert != "" && tlsKey == "" || tlsCert == "" && tlsKey != "" {
			return errors.New("--tls-cert and --tls-key must be set together")
		}
		addr := app.cfg.Listen

		views := web.New(app.client, app.sessions, app.cart, app.checkout, web.WithLogger(app.logger))

		server := &http.Server{
			Addr:              addr,
			Handler:           views.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if tlsCert != "" {
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
		app.logger.Info("serving views",
			zap.String("addr", addr),
			zap.String("api_url", app.cfg.APIURL),
			zap.String("store", app.cfg.Store),
			zap.Bool("tls", server.TLSConfig != nil))

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

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (default :8080)")
	serveCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
