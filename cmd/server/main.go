package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-roadwatch/internal/api"
	"github.com/technosupport/ts-roadwatch/internal/archive"
	"github.com/technosupport/ts-roadwatch/internal/config"
	"github.com/technosupport/ts-roadwatch/internal/devices"
	"github.com/technosupport/ts-roadwatch/internal/hub"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
	"github.com/technosupport/ts-roadwatch/internal/metrics"
	"github.com/technosupport/ts-roadwatch/internal/middleware"
	"github.com/technosupport/ts-roadwatch/internal/ratelimit"
	"github.com/technosupport/ts-roadwatch/internal/tokens"
)

const serviceName = "TS-RoadWatch-Hub"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Configuration (file + env; file is hot-reloaded)
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.NewDynamic(cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	cfg.StartWatcher(ctx)

	redisAddr := os.Getenv("REDIS_ADDR")
	natsURL := os.Getenv("NATS_URL")
	dbHost := os.Getenv("DB_HOST")
	jwtKey := os.Getenv("JWT_SIGNING_KEY")

	// 2. Components
	collector := metrics.NewCollector()

	// Optional incident archive (Postgres mirror with spool failover).
	// The in-memory store stays authoritative either way.
	var archiver incidents.Archiver
	if dbHost != "" {
		dbUser := os.Getenv("DB_USER")
		dbPass := os.Getenv("DB_PASSWORD")
		dbName := os.Getenv("DB_NAME")
		connStr := fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable", dbUser, dbPass, dbHost, dbName)

		db, err := sql.Open("postgres", connStr)
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Printf("Warning: archive DB unreachable: %v. Incidents will spool until it returns.", err)
		}

		fileCfg := cfg.Snapshot()
		archive.ConfigureFailover(fileCfg.Archive.SpoolDir, fileCfg.Archive.SpoolMaxMB)
		archiveSvc := archive.NewService(db)
		archiveSvc.StartReplayer(ctx)
		archiver = archiveSvc
		log.Printf("Incident archive enabled (host %s)", dbHost)
	}

	store := incidents.NewStore(cfg.Snapshot().Server.ImageDir, archiver)
	registry := devices.NewRegistry()

	// Optional NATS mirror for downstream consumers.
	var publisher hub.EventPublisher
	if natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Incident mirror disabled.", err)
		} else {
			defer nc.Close()
			ev := cfg.Snapshot().Events.Nats
			publisher = hub.NewNATSPublisher(nc, ev.Subject, ev.PublishRetryMax, ev.DedupMaxKeys,
				time.Duration(ev.DedupTTLSeconds)*time.Second)
			log.Printf("Connected to NATS, mirroring incidents on %q", ev.Subject)
		}
	}

	h := hub.New(store, registry, publisher, collector)

	sweeper := devices.NewSweeper(registry, cfg, h.BroadcastDevices)
	sweeper.Start()
	defer sweeper.Stop()

	// Optional Redis-backed rate limiting of the HTTP ingestion path.
	var rlMiddleware *middleware.RateLimitMiddleware
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATE_LIMIT_SALT"))
		rlMiddleware = middleware.NewRateLimitMiddleware(limiter, cfg.IncidentLimit)
	} else {
		rlMiddleware = middleware.NewRateLimitMiddleware(nil, cfg.IncidentLimit)
	}

	// Optional demo token gate on the WS endpoint.
	var tokenMgr *tokens.Manager
	if jwtKey != "" {
		tokenMgr = tokens.NewManager(jwtKey)
	}

	incidentHandler := api.NewIncidentHandler(store, h, collector)
	deviceHandler := api.NewDeviceHandler(registry)
	statsHandler := api.NewStatsHandler(store, registry)
	wsHandler := api.NewWsHandler(h, tokenMgr)

	// 3. Routing
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS - the dashboard is served from anywhere during demos
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health & Metrics
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", collector.Handler())

	// Persistent-connection endpoint. No request timeout here: the
	// connection is long-lived by design.
	r.Get("/ws/incidents", wsHandler.ServeWS)

	// HTTP gateway
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.With(rlMiddleware.Limit).Post("/incidents", incidentHandler.Create)
		r.Get("/incidents", incidentHandler.List)
		r.Get("/devices", deviceHandler.List)
		r.Get("/stats", statsHandler.Get)
	})

	// 4. Serve
	port := cfg.Snapshot().Server.Port
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("%s listening on :%s", serviceName, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Failing to bind is the only error class that aborts the process.
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
