package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matching_go/internal/app"
	"matching_go/internal/event"
	"matching_go/internal/infra"
	"matching_go/internal/outbound"
	"matching_go/internal/service"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// Pprof server, localhost only.
	go func() {
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Store.Close()

	if err := bootstrap.Recover(); err != nil {
		slog.Error("❌ State recovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config
	log := slog.Default()

	// Outbound fan-out: WebSocket hub and the query read model always,
	// Kafka when configured.
	hub := outbound.NewHub(log)
	quotes := service.NewQuoteService()
	sinks := []outbound.Sink{hub, quotes}
	if len(cfg.Outbound.Kafka.Brokers) > 0 {
		sinks = append(sinks, outbound.NewKafkaSink(cfg.Outbound.Kafka.Brokers, cfg.Outbound.Kafka.Topic))
		slog.Info("✅ Kafka sink enabled", slog.String("topic", cfg.Outbound.Kafka.Topic))
	}

	outboundQueue := make(chan event.Event, cfg.Engine.OutboundBuffer)
	worker := outbound.NewWorker(outboundQueue, sinks, log)
	go worker.Run(ctx)

	if cfg.Outbound.WSListen != "" {
		go func() {
			slog.Info("✅ Feed server listening", slog.String("addr", cfg.Outbound.WSListen))
			mux := http.NewServeMux()
			mux.Handle("/ws", hub)
			mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
				snap, ok := quotes.BookSnapshot(r.URL.Query().Get("instrument"))
				if !ok {
					http.Error(w, "unknown instrument", http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(snap)
			})
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(infra.GlobalMetrics.Snapshot())
			})
			if err := http.ListenAndServe(cfg.Outbound.WSListen, mux); err != nil {
				slog.Error("Feed server failed", slog.Any("error", err))
			}
		}()
	}

	// The hotpath loop. Exactly one goroutine runs it.
	dispatcher := bootstrap.BuildDispatcher(outboundQueue, log)
	go dispatcher.Run(ctx)
	slog.InfoContext(ctx, "✅ Dispatcher (Hotpath) started")

	// Periodic pruning of durable dedup records. The in-memory index is
	// pruned inside the dispatch loop. Zero retention keeps everything.
	if cfg.DedupRetention() > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					bound := time.Now().Add(-cfg.DedupRetention())
					if n, err := bootstrap.Store.PruneProcessed(bound); err != nil {
						slog.Warn("dedup prune failed", slog.Any("error", err))
					} else if n > 0 {
						slog.Info("dedup records pruned", slog.Int64("rows", n))
					}
				}
			}
		}()
	}

	slog.InfoContext(ctx, "✨ Matching core fully operational. Press Ctrl+C to exit.")

	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
