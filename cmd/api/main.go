package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"villaops.org/internal/auth"
	"villaops.org/internal/config"
	"villaops.org/internal/httpapi"
	"villaops.org/internal/identity"
	"villaops.org/internal/jobs"
	"villaops.org/internal/mailer"
	"villaops.org/internal/obs"
	"villaops.org/internal/orders"
	"villaops.org/internal/session"
	pgstore "villaops.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	profiles session.ProfileStore
	creds    identity.CredentialStore
	orders   orders.Store
	ready    httpapi.ReadyProbe
	close    func()
}

func main() {
	logger := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	shutdownTracing := obs.SetupTracing("villaops-api", version)

	st, err := openStores(cfg)
	if err != nil {
		logger.Error("open stores", "error", err.Error())
		os.Exit(1)
	}
	defer st.close()

	tokens, closeTokens := openTokens(cfg)
	defer closeTokens()

	mail, err := openMailer(cfg)
	if err != nil {
		logger.Error("configure mailer", "error", err.Error())
		os.Exit(1)
	}

	secret := cfg.AuthSecret
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		logger.Warn("VILLAOPS_AUTH_SECRET not set; tokens will not survive a restart")
	}
	issuer, err := identity.NewIssuer(secret, cfg.AccessTTL)
	if err != nil {
		logger.Error("token issuer", "error", err.Error())
		os.Exit(1)
	}
	signupRole, err := auth.ParseRole(cfg.SignupRole)
	if err != nil {
		logger.Error("signup role", "error", err.Error())
		os.Exit(1)
	}
	provider := identity.NewLocal(identity.Config{
		RefreshTTL:    cfg.RefreshTTL,
		ResetTTL:      cfg.ResetTTL,
		SignupRole:    signupRole,
		MaxFailures:   cfg.MaxLoginFails,
		LockoutWindow: cfg.LockoutWindow,
		ResetURL:      cfg.ResetURL,
		AllowSignup:   cfg.AllowSignup,
	}, issuer, st.creds, st.profiles, tokens, mail)

	policy := auth.DefaultPolicy()
	orderSvc := orders.NewService(st.orders, orders.WithChecker(policy))
	hub := session.NewHub()

	api := httpapi.New(httpapi.Config{
		Version:     version,
		Ready:       st.ready,
		Provider:    provider,
		Profiles:    st.profiles,
		Orders:      orderSvc,
		Policy:      &policy,
		Hub:         hub,
		CORSOrigins: cfg.CORSOrigins,
		RateBurst:   cfg.AuthRateBurst,
		RatePerSec:  cfg.AuthRateRPS,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(st.ready, version)
	health.Register(grpcSrv)
	go health.Watch(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen", "addr", cfg.GRPCAddr, "error", err.Error())
		os.Exit(1)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc serve", "error", err.Error())
		}
	}()

	escalation, err := jobs.NewEscalationJob(cfg.EscalationCron, orderSvc, 30*time.Second)
	if err != nil {
		logger.Error("escalation job", "error", err.Error())
		os.Exit(1)
	}
	escalation.Start()

	logger.Info("starting villaops-api", "version", version, "http_addr", srv.Addr, "grpc_addr", cfg.GRPCAddr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	escalation.Stop(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)
	logger.Info("stopped")
}

func openStores(cfg config.Config) (stores, error) {
	if cfg.PGDSN == "" {
		obs.Logger().Warn("VILLAOPS_PG_DSN not set; using in-memory stores")
		return stores{
			profiles: session.NewInMemoryProfiles(),
			creds:    identity.NewInMemoryCredentials(),
			orders:   orders.NewInMemory(),
			close:    func() {},
		}, nil
	}
	pg, err := pgstore.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pg.Ping(ctx); err != nil {
		_ = pg.Close()
		return stores{}, err
	}
	return stores{
		profiles: pg,
		creds:    pg,
		orders:   pg,
		ready:    httpapi.ReadyProbe{DB: pg.DB()},
		close:    func() { _ = pg.Close() },
	}, nil
}

func openTokens(cfg config.Config) (identity.TokenStore, func()) {
	if cfg.RedisAddr == "" {
		return identity.NewMemoryTokens(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return identity.NewRedisTokens(rdb, "villaops:"), func() { _ = rdb.Close() }
}

func openMailer(cfg config.Config) (mailer.Sender, error) {
	if cfg.SMTPHost == "" {
		return mailer.NewLogSender(), nil
	}
	s, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
