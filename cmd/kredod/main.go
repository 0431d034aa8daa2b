// Command kredod runs the Kredo discovery and reputation service.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kredo-protocol/kredo/api"
	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kredod",
		Short:         "Kredo agent discovery and reputation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Optional; the environment wins over .env values.
			_ = godotenv.Load()
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), keygenCmd(), versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer log.Sync()

			cfg, err := api.LoadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := api.NewServer(cfg, log, st)
			if err != nil {
				return err
			}
			httpSrv := &http.Server{
				Addr:              cfg.BindAddr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening",
					zap.String("addr", cfg.BindAddr),
					zap.String("db", cfg.DBPath),
					zap.String("version", model.KredoVersion))
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := api.LoadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()
			version, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, cfg.DBPath)
			return nil
		},
	}
}

// keygenCmd generates a client identity for testing against a local instance.
// The service itself never signs anything.
func keygenCmd() *cobra.Command {
	var seedHex string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 identity and print pubkey and seed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var seed []byte
			if seedHex != "" {
				var err error
				seed, err = hex.DecodeString(seedHex)
				if err != nil || len(seed) != ed25519.SeedSize {
					return fmt.Errorf("--seed-hex must be %d hex characters", ed25519.SeedSize*2)
				}
			} else {
				seed = make([]byte, ed25519.SeedSize)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("rand: %w", err)
				}
			}
			priv := ed25519.NewKeyFromSeed(seed)
			pub := priv.Public().(ed25519.PublicKey)
			fmt.Fprintf(cmd.OutOrStdout(), "pubkey: ed25519:%s\n", hex.EncodeToString(pub))
			fmt.Fprintf(cmd.OutOrStdout(), "seed:   %s\n", hex.EncodeToString(seed))
			return nil
		},
	}
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "ed25519 seed as 64 hex chars (random when omitted)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the protocol version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), model.KredoVersion)
		},
	}
}
