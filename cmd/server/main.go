package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/visual-aoi/backend/internal/api"
	"github.com/visual-aoi/backend/internal/barcode"
	"github.com/visual-aoi/backend/internal/capability"
	"github.com/visual-aoi/backend/internal/config"
	"github.com/visual-aoi/backend/internal/golden"
	"github.com/visual-aoi/backend/internal/inspection"
	"github.com/visual-aoi/backend/internal/metrics"
	"github.com/visual-aoi/backend/internal/pathmap"
	"github.com/visual-aoi/backend/internal/session"
)

func main() {
	log.Println("Starting Visual AOI Inspection Server...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	m := metrics.New()

	// 1. Shared filesystem: sessions and golden libraries.
	sessions := session.NewManager(cfg.Paths.SharedRoot)
	sessions.OnCountChange(func(n int) { m.ActiveSessions.Set(float64(n)) })

	store := golden.NewStore(cfg.Paths.ProductsRoot)
	projector := pathmap.NewProjector(cfg.Paths.SharedRoot, cfg.Paths.ClientMountPrefix)

	// 2. Perception capabilities.
	features := capability.NewRegistry(cfg.Capability.MobileNetURL, cfg.CapabilityTimeout())
	var ocr capability.TextRecognizer
	if cfg.Capability.OCRURL != "" {
		ocr = capability.NewHTTPRecognizer(cfg.Capability.OCRURL, cfg.CapabilityTimeout())
	}

	matcher := golden.NewMatcher(store, features)
	matcher.Hooks(
		func(product, method string) { m.GoldenComparisons.WithLabelValues(product, method).Inc() },
		func(product string, failed bool) {
			if failed {
				m.PromotionFailures.WithLabelValues(product).Inc()
			} else {
				m.GoldenPromotions.WithLabelValues(product).Inc()
			}
		},
	)

	// 3. Barcode linking.
	var cache barcode.LinkCache
	switch cfg.BarcodeLink.CacheBackend {
	case "memory":
		cache = barcode.NewMemoryCache(cfg.LinkCacheTTL())
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.BarcodeLink.RedisAddr})
		cache = barcode.NewRedisCache(client, cfg.LinkCacheTTL())
	}
	linker := barcode.NewLinker(cfg.BarcodeLink.URL, cfg.BarcodeLink.Enabled, cfg.LinkTimeout(), cache)
	linker.Hooks(
		func(outcome string) { m.LinkRequestsTotal.WithLabelValues(outcome).Inc() },
		func(seconds float64) { m.LinkDuration.Observe(seconds) },
	)
	ladder := barcode.NewLadder(linker)

	// 4. Inspection flow.
	executor := inspection.NewExecutor(capability.NewZXingDecoder(), ocr, matcher)
	runner := inspection.NewRunner(executor, cfg.Inspection.WorkerPoolMax)
	orchestrator := inspection.NewOrchestrator(
		cfg.Paths.ProductsRoot, sessions, runner, ladder, projector, m, cfg.InspectionDeadline())

	// 5. Session reaper.
	stop := make(chan struct{})
	sessions.StartReaper(
		cfg.SessionTTL(),
		time.Duration(cfg.Session.ReapIntervalHours)*time.Hour,
		stop,
		func(n int) { m.SessionsReaped.Add(float64(n)) },
	)

	// 6. HTTP surface.
	server := api.NewAPIServer(sessions, orchestrator, store, projector)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Inspection API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down...")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
