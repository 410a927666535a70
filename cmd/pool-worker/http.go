package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackPool/config"
	"github.com/BearBump/TrackPool/internal/services/reconciler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	reconciler *reconciler.Reconciler
	cfg        *config.Config
	// опционально: storage.Ping и счётчик пропущенных сообщений консьюмера
	ping    func(ctx context.Context) error
	skipped func() int64
}

type workerStats struct {
	reconciler.Stats
	SkippedEvents int64 `json:"skippedEvents"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	fi, err := os.Stat(opts.swaggerPath)
	if err != nil {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{
		Handler:           newWorkerRouter(opts, fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func newWorkerRouter(opts workerHTTPOpts, swaggerURL string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeWorkerJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// не готов, если БД недоступна или последний прогон сверки упал
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ping != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.ping(pingCtx); err != nil {
				writeWorkerJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		if st := opts.reconciler.Stats(); st.LastError != "" {
			writeWorkerJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": st.LastError})
			return
		}
		writeWorkerJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := workerStats{Stats: opts.reconciler.Stats()}
		if opts.skipped != nil {
			out.SkippedEvents = opts.skipped()
		}
		writeWorkerJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		// без секретов, только настройки воркера
		writeWorkerJSON(w, http.StatusOK, map[string]any{
			"reconcileIntervalSeconds": opts.cfg.TrackPool.WorkerReconcileIntervalSeconds,
			"kafkaConsumerGroup":       opts.cfg.TrackPool.WorkerKafkaConsumerGroup,
			"allocationEventsTopic":    opts.cfg.Kafka.AllocationEventsTopicName,
			"logLevel":                 opts.cfg.TrackPool.LogLevel,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		opts.reconciler.Trigger()
		writeWorkerJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

func writeWorkerJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
