package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/hydrabase/realtime/internal/api"
	"github.com/hydrabase/realtime/internal/auth"
	"github.com/hydrabase/realtime/internal/backoff"
	"github.com/hydrabase/realtime/internal/bridge"
	"github.com/hydrabase/realtime/internal/config"
	"github.com/hydrabase/realtime/internal/db"
	"github.com/hydrabase/realtime/internal/gateway"
	"github.com/hydrabase/realtime/internal/hub"
	"github.com/hydrabase/realtime/internal/metrics"
	"github.com/hydrabase/realtime/internal/presence"
	"github.com/hydrabase/realtime/internal/registry"
	"github.com/hydrabase/realtime/internal/subscription"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{Use: "realtimed", Short: "Realtime notification gateway"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))
	root.AddCommand(keyHashCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Install the realtime notify trigger function",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			dbConn, err := db.Open(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			return db.ApplyMigrations(ctx, dbConn)
		},
	}
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var user, tenant, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for connecting to the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.ServiceKeyHash)
			token, err := verifier.Mint(user, tenant, role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (sub claim)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&role, "role", "authenticated", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func keyHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key-hash <service-key>",
		Short: "Print the bcrypt hash of a service key for auth.service_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Println(string(hash))
			return nil
		},
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			ctx := context.Background()
			dbConn, err := db.Open(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			if err := dbConn.Ping(ctx); err != nil {
				return fmt.Errorf("database unreachable: %w", err)
			}
			if err := db.ApplyMigrations(ctx, dbConn); err != nil {
				return err
			}

			m := metrics.New()
			reg := registry.New()
			idx := subscription.New()
			pres := presence.New()
			h := hub.New(reg, idx, m, log)
			verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.ServiceKeyHash)

			policy := backoff.DefaultPolicy()
			if cfg.Bridge.BackoffInitialMs > 0 {
				policy.Initial = time.Duration(cfg.Bridge.BackoffInitialMs) * time.Millisecond
			}
			if cfg.Bridge.BackoffMaxMs > 0 {
				policy.Max = time.Duration(cfg.Bridge.BackoffMaxMs) * time.Millisecond
			}
			b := bridge.New(bridge.PgDialer(cfg.DB.DSN), idx, h, m, log, cfg.Bridge.WaitTimeout, policy)
			idx.SetListener(b)

			ws := gateway.NewServer(verifier, reg, idx, pres, h, m, log, gateway.Options{
				SendBuffer:      cfg.WS.SendBuffer,
				MaxMessageBytes: cfg.WS.MaxMessageBytes,
				PingInterval:    cfg.WS.PingInterval,
				IdleTimeout:     cfg.WS.IdleTimeout,
				AllowedOrigins:  cfg.API.AllowedOrigins,
			})
			a := api.New(verifier, reg, idx, pres, b, m, ws, log)

			// Binding the control surface is the one fatal startup error.
			ln, err := net.Listen("tcp", cfg.API.Listen)
			if err != nil {
				return fmt.Errorf("bind %s: %w", cfg.API.Listen, err)
			}
			srv := &http.Server{Handler: a.Router()}

			bgCtx, bgCancel := context.WithCancel(context.Background())
			defer bgCancel()
			go b.Run(bgCtx)

			go func() {
				log.Info("realtimed listening", "addr", cfg.API.Listen)
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("serve error", "error", err)
				}
			}()

			stop := make(chan os.Signal, 2)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			log.Info("shutting down")

			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}
