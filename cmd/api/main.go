package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/pending"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	// init db
	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	users := userrepo.NewUserRepo(db)
	if cfg.Database.AutoMigrate {
		if err := users.EnsureTable(context.Background()); err != nil {
			sugar.Fatalf("ensure users table: %v", err)
		}
	}

	mailer, err := notify.New(cfg.Mail, sugar.Named("mail"))
	if err != nil {
		sugar.Fatalf("mail sender: %v", err)
	}
	if cfg.Token.Secret == "" {
		sugar.Warn("TOKEN_SECRET not set; using a random secret, tokens will not survive restart")
	}
	tokens, err := token.NewIssuer(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.TTL)
	if err != nil {
		sugar.Fatalf("token issuer: %v", err)
	}
	pendingStore := pending.NewStore(cfg.Auth.OTPTTL, nil)

	svc := user.NewUserService(user.Deps{
		Users:       users,
		Hasher:      user.BcryptHasher{Cost: cfg.Auth.BcryptCost},
		Mailer:      mailer,
		Tokens:      tokens,
		Pending:     pendingStore,
		IDs:         utilities.NewIDGenerator(cfg.SnowflakeNode),
		Logger:      sugar.Named("user"),
		AdminEmails: cfg.Auth.AdminEmails,
	})

	// mount http server
	handler := router.RegisterRoutes(sugar, router.Options{
		APIPrefix:     cfg.HTTP.APIPrefix,
		AllowedOrigin: cfg.HTTP.AllowedOrigin,
	}, user.NewHandler(svc, sugar.Named("http")))
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler,
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return pendingStore.Run(gctx, cfg.Auth.SweepInterval, func(n int) {
			sugar.Debugw("expired pending signups removed", "count", n)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")

		// give a short grace period for cleanup
		doneCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorf("service stopped: %v", err)
		return
	}
	sugar.Info("goodbye")
}
