package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"skillbay.org/internal/httpapi"
	"skillbay.org/internal/market"
	"skillbay.org/internal/obs"
	"skillbay.org/internal/store/pg"
	"skillbay.org/internal/ws"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("SKILLBAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Postgres when a DSN is given, in-memory otherwise (local runs, CI).
	var (
		store   market.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("SKILLBAY_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		store = market.NewInMemory()
	}

	svc := market.NewService(store)
	registry := ws.NewRegistry()
	dispatcher := ws.NewDispatcher(registry)
	dispatcher.SetPartyResolver(svc)
	svc.SetNotifier(dispatcher)

	sup := ws.NewSupervisor(registry, dispatcher, svc, allowedOrigins())

	rp := httpapi.ReadyProbe{}
	if pgStore != nil {
		rp.DB = pgStore.DB()
	}
	api := httpapi.New(rp, version, svc, sup)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	log.Printf("Starting skillbay-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func allowedOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("SKILLBAY_ALLOWED_ORIGINS"))
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
