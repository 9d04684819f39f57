package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/app"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/config"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
)

func main() {
	var cfgPath, userName, password, metricsAddr string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&userName, "user", "", "user name to log in with")
	flag.StringVar(&password, "password", "", "password for -user")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load config: %v", err)
		}
		cfg = config.Default()
	}
	observ.SetLogger(observ.NewLogger(os.Stderr, cfg.Log.Level))
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	observ.Log("startup", map[string]any{
		"base_url": cfg.Server.BaseURL,
		"outbox":   cfg.Outbox.Enabled,
		"config":   cfgPath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := app.New(cfg)
	if err != nil {
		log.Fatalf("build client: %v", err)
	}
	defer client.Stop()

	if err := client.Start(ctx); err != nil {
		observ.Log("resume_session_failed", map[string]any{"error": err.Error()})
	}

	if userName != "" {
		creds := session.Credentials{UserName: userName, Token: password}
		if err := client.Session.CreateSession(ctx, uuid.NewString(), creds); err != nil {
			observ.Log("login_failed", map[string]any{"user": userName, "error": err.Error()})
		} else if client.Session.RequiresPasswordChange() {
			observ.Log("password_change_required", map[string]any{"user": userName})
		}
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/health", observ.Health())
		mux.Handle("/healthz", observ.HealthHandler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		observ.Log("metrics_listen", map[string]any{"addr": metricsAddr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	<-ctx.Done()
	observ.Log("shutdown", map[string]any{"status": string(client.SessionState().Status)})
}
