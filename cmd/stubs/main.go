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

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/config"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/stubs"
)

// demoUser is served when the config lists no users.
var demoUser = config.StubUser{
	UserName:    "admin",
	Password:    "admin",
	Permissions: []string{"Incident", "Notice", "Sit915", "Multicast", "Profile"},
}

func main() {
	var cfgPath, fixturesPath string
	var delayMs int
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&fixturesPath, "fixtures", "", "fixtures JSON (default: built-in set)")
	flag.IntVar(&delayMs, "delivery-delay-ms", 500, "simulated multicast delivery delay")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load config: %v", err)
		}
		cfg = config.Default()
	}
	observ.SetLogger(observ.NewLogger(os.Stderr, cfg.Log.Level))
	if len(cfg.Stub.Users) == 0 {
		cfg.Stub.Users = []config.StubUser{demoUser}
	}

	fx := stubs.DefaultFixtures()
	if fixturesPath != "" {
		if fx, err = stubs.LoadFixtures(fixturesPath); err != nil {
			log.Fatalf("load fixtures: %v", err)
		}
	}

	stub, err := stubs.New(cfg.Stub, fx)
	if err != nil {
		log.Fatalf("build stub: %v", err)
	}
	stub.DeliveryDelay = time.Duration(delayMs) * time.Millisecond

	srv := &http.Server{Addr: cfg.Stub.Addr, Handler: stub.Handler(), ReadHeaderTimeout: 5 * time.Second}
	observ.Log("startup", map[string]any{"addr": cfg.Stub.Addr, "users": len(cfg.Stub.Users)})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server %s error: %v", cfg.Stub.Addr, err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	observ.Log("shutdown", map[string]any{"clients": stub.Hub().Connected()})
}
