package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	addr := cfg.Host + ":" + cfg.Port

	hub, err := server.New(context.Background(), cfg, server.Options{})
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for sig := range signalCh {
			if sig == syscall.SIGHUP {
				result, err := hub.Reload(context.Background())
				if err != nil {
					log.Printf("reload error: %v", err)
					continue
				}
				log.Printf("speakers reloaded: added=%v removed=%v restarted=%v",
					result.Added, result.Removed, result.Restarted)
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := srv.Shutdown(ctx); err != nil {
				log.Printf("shutdown error: %v", err)
			}
			if err := hub.Shutdown(ctx); err != nil {
				log.Printf("shutdown error: %v", err)
			}
			cancel()
			return
		}
	}()

	log.Printf("kef-hub-go listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	<-stopped
}
