// orchestratord is the orchestrator's server binary: it boots the runtime
// engine, the front door HTTP/websocket API, and a metrics endpoint, then
// blocks until an interrupt, mirroring the teacher's cmd/alex-server thin
// main delegating everything to a bootstrap package.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cklxx/taskgraph/internal/bootstrap"
	"github.com/cklxx/taskgraph/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("orchestratord", pflag.ExitOnError)
	flags.String("listen", "", "front door listen address (overrides config)")
	flags.String("metrics-addr", "", "metrics listen address (overrides config)")
	flags.String("config", "", "path to an orchestrator.yaml file")
	_ = flags.Parse(os.Args[1:])

	configPath, _ := flags.GetString("config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, config.Options{ConfigPath: configPath, Flags: flags})
	if err != nil {
		log.Fatalf("orchestratord: bootstrap failed: %v", err)
	}

	if err := rt.Engine.Start(ctx); err != nil {
		log.Fatalf("orchestratord: engine failed to start: %v", err)
	}

	metricsSrv := &http.Server{Addr: rt.Config.MetricsAddr, Handler: rt.Metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("orchestratord: metrics server error: %v", err)
		}
	}()

	frontSrv := &http.Server{Addr: rt.Config.ListenAddr, Handler: rt.Front.Handler()}
	go func() {
		log.Printf("orchestratord: listening on %s (metrics on %s)", rt.Config.ListenAddr, rt.Config.MetricsAddr)
		if err := frontSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("orchestratord: front door server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("orchestratord: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = frontSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Printf("orchestratord: shutdown error: %v", err)
	}
}
