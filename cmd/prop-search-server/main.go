// Package main provides the prop-search server binary.
// This server exposes an HTTP API for semantic property search, listing
// ingestion, and cache analytics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/propsearch/prop-search/internal/bus"
	"github.com/propsearch/prop-search/internal/client"
	"github.com/propsearch/prop-search/internal/config"
	"github.com/propsearch/prop-search/internal/embedding"
	"github.com/propsearch/prop-search/internal/metrics"
	"github.com/propsearch/prop-search/internal/pkg/logger"
	"github.com/propsearch/prop-search/internal/pkg/middleware"
	"github.com/propsearch/prop-search/internal/rank"
	"github.com/propsearch/prop-search/internal/search"
	"github.com/propsearch/prop-search/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// inFlightCounter tracks the number of active HTTP requests
	inFlightCounter int64

	// serverReady indicates whether the server is ready to accept requests.
	// Set to false during shutdown to fail readiness checks.
	serverReady atomic.Bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prop-search-server",
		Short: "Prop Search Server - semantic property listing search",
		Long: `Prop Search Server turns free-text property queries into ranked listing
results. It parses the query, embeds it via an external embedding service
(with caching and failover), retrieves candidates from Qdrant, and blends
vector similarity with structured match signals.

Examples:
  prop-search-server                          # Start with defaults
  prop-search-server --port 8080              # Custom HTTP port
  prop-search-server -c config.yaml           # Explicit config file
  prop-search-server init                     # Create the Qdrant collection
  prop-search-server search "2 bed flat"      # Query a running server`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	// Server flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().Int("port", 8080, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prop-search-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the property collection and payload indexes",
		RunE:  runInit,
	})

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a running server from the command line",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	searchCmd.Flags().Int("limit", 0, "page size (0 = server default)")
	searchCmd.Flags().Int("page", 0, "page number (1-indexed)")
	searchCmd.Flags().Bool("json", false, "print the raw JSON response")
	rootCmd.AddCommand(searchCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest <listings.json>",
		Short: "Upsert listings from a JSON file into a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	ingestCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	rootCmd.AddCommand(ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	serverURL, _ := cmd.Flags().GetString("server")
	limit, _ := cmd.Flags().GetInt("limit")
	page, _ := cmd.Flags().GetInt("page")
	asJSON, _ := cmd.Flags().GetBool("json")

	c := client.New(client.Config{BaseURL: serverURL})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.Search(ctx, client.SearchRequest{
		Query: args[0],
		Limit: limit,
		Page:  page,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	mode := "semantic"
	if !resp.Semantic {
		mode = "filter-only"
	}
	fmt.Printf("%d results (%s, %dms)\n", resp.Total, mode, resp.Timing.TotalMs)
	for i, m := range resp.Results {
		p := m.Property
		fmt.Printf("%2d. %s — £%d, %s, %d bed %s (score %.3f)\n",
			i+1, p.Title, p.Price, p.City, p.Bedrooms, p.PropertyType, m.Score)
		if len(m.MatchReasons) > 0 {
			fmt.Printf("    %s\n", strings.Join(m.MatchReasons, "; "))
		}
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	serverURL, _ := cmd.Flags().GetString("server")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read listings file: %w", err)
	}

	var properties []client.Property
	if err := json.Unmarshal(data, &properties); err != nil {
		return fmt.Errorf("failed to parse listings file: %w", err)
	}

	c := client.New(client.Config{BaseURL: serverURL})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := c.Ingest(ctx, properties)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Printf("upserted %d listings\n", result.Upserted)
	return nil
}

func runInit(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logLevel := "info"
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, "text")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sc, err := store.NewClient(store.ClientConfig{
		Host:   appCfg.Qdrant.Host,
		Port:   appCfg.Qdrant.Port,
		APIKey: appCfg.Qdrant.APIKey,
		UseTLS: appCfg.Qdrant.UseTLS,
		Prefix: appCfg.Qdrant.CollectionPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer func() { _ = sc.Close() }()

	collCfg := store.DefaultCollectionConfig()
	if appCfg.Qdrant.VectorSize > 0 {
		collCfg.VectorSize = uint64(appCfg.Qdrant.VectorSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sc.EnsureCollection(ctx, collCfg); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	log.Info("Collection ready",
		"collection", store.CollectionName,
		"vector_size", collCfg.VectorSize,
	)
	return nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	// Setup logger
	logLevel := "info"
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, "text")

	log.Info("Starting Prop Search Server", "version", version)

	// Load config
	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if cmd.Flags().Changed("port") {
		appCfg.Port = port
	}
	if cmd.Flags().Changed("host") {
		appCfg.Host = host
	}
	if verbose {
		appCfg.Log.Level = "debug"
	}
	log = logger.New(appCfg.Log.Level, appCfg.Log.Format)

	// Initialize rate limiter if enabled
	var rateLimiter *middleware.RateLimiter
	if appCfg.Security.RateLimit > 0 {
		rlCfg := middleware.RateLimiterConfig{
			RequestsPerSecond: float64(appCfg.Security.RateLimit),
			Burst:             appCfg.Security.RateLimit * 2,
			CleanupInterval:   time.Minute,
		}
		rateLimiter = middleware.NewRateLimiter(rlCfg)
		log.Info("Rate limiting enabled", "requests_per_second", appCfg.Security.RateLimit)
	}

	// Initialize metrics EARLY (needed for the instrumented bus)
	metricsSvc := metrics.New()

	// Initialize event bus
	innerBus, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	eventBus := bus.NewInstrumentedBus(innerBus, metricsSvc)
	defer func() { _ = eventBus.Close() }()
	log.Info("Initialized event bus", "type", appCfg.Bus.Type)

	// Initialize storage
	storeClient, err := store.NewClient(store.ClientConfig{
		Host:   appCfg.Qdrant.Host,
		Port:   appCfg.Qdrant.Port,
		APIKey: appCfg.Qdrant.APIKey,
		UseTLS: appCfg.Qdrant.UseTLS,
		Prefix: appCfg.Qdrant.CollectionPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer func() { _ = storeClient.Close() }()

	collCfg := store.DefaultCollectionConfig()
	if appCfg.Qdrant.VectorSize > 0 {
		collCfg.VectorSize = uint64(appCfg.Qdrant.VectorSize)
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := storeClient.EnsureCollection(ctx, collCfg)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ensure collection: %w", err)
		}
	}
	log.Info("Connected to Qdrant",
		"host", appCfg.Qdrant.Host,
		"port", appCfg.Qdrant.Port,
		"collection", store.CollectionName,
	)

	// Optional remote cache tier
	var remote embedding.RemoteStore
	var redisStore *embedding.RedisStore
	if appCfg.Cache.Type == "redis" {
		redisStore, err = embedding.NewRedisStore(appCfg.Cache.RedisURL, log)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer func() { _ = redisStore.Close() }()
		remote = redisStore
		log.Info("Redis cache tier enabled")
	}

	// Initialize embedding pipeline
	embedStats := embedding.NewStats()
	embedCache := embedding.NewCache(embedding.CacheConfig{
		MaxSize: appCfg.Cache.Size,
		TTL:     appCfg.Cache.TTL,
	}, remote, log)

	embedClient, err := embedding.NewClient(embedding.ClientConfig{
		Endpoints:         appCfg.Embedding.EndpointList(),
		Model:             appCfg.Embedding.Model,
		Timeout:           appCfg.Embedding.Timeout,
		Retries:           appCfg.Embedding.Retries,
		RequestsPerSecond: appCfg.Embedding.RequestsPerSecond,
		CostPerRequest:    appCfg.Embedding.CostPerRequest,
	}, embedCache, embedStats, log)
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	log.Info("Initialized embedding client",
		"endpoints", len(appCfg.Embedding.EndpointList()),
		"model", appCfg.Embedding.Model,
	)

	// Initialize ranker and search service
	ranker := rank.NewRanker(
		rank.WeightsFromConfig(appCfg.Ranking),
		appCfg.Search.SimilarityThreshold,
	)

	searchSvc := search.NewService(embedClient, storeClient, ranker, eventBus, metricsSvc, log, search.Config{
		SimilarityThreshold: appCfg.Search.SimilarityThreshold,
		DefaultPageSize:     appCfg.Search.DefaultPageSize,
		MaxPageSize:         appCfg.Search.MaxPageSize,
		FallbackEnabled:     appCfg.Search.FallbackEnabled,
	})

	// HTTP routes
	mux := http.NewServeMux()
	search.NewHandler(searchSvc).Register(mux)
	mux.Handle("/metrics", metricsSvc.Handler())
	registerMetaRoutes(mux, searchSvc)

	// Build middleware chain
	handler := http.Handler(mux)
	handler = inFlightMiddleware(handler)
	handler = metricsMiddleware(handler, metricsSvc)
	handler = loggingMiddleware(handler, log)
	handler = corsMiddleware(handler, appCfg.Security.CORSOrigins)
	if rateLimiter != nil {
		handler = rateLimiter.Middleware(handler)
	}
	handler = recoveryMiddleware(handler, log)

	httpSrv := &http.Server{
		Addr:         appCfg.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		serverReady.Store(true)
		log.Info("Starting HTTP server", "addr", appCfg.Address())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutdown signal received")

	// Graceful shutdown with in-flight request draining
	shutdownTimeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	serverReady.Store(false)
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown error", "error", err)
	}

	if drainInFlight(shutdownTimeout, log) {
		log.Info("All in-flight requests completed")
	} else {
		remaining := atomic.LoadInt64(&inFlightCounter)
		log.Warn("Shutdown timeout reached with pending requests", "remaining", remaining)
	}

	log.Info("Server stopped")
	return nil
}

// registerMetaRoutes registers version and readiness endpoints that sit
// outside the search handler.
func registerMetaRoutes(mux *http.ServeMux, searchSvc *search.Service) {
	mux.HandleFunc("GET /v1/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"version":    version,
			"git_commit": commit,
			"build_time": date,
		})
	})

	// Readiness probe - returns 503 during shutdown or when a dependency
	// is unavailable.
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if !serverReady.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready", "reason": "shutting_down"})
			return
		}

		if !searchSvc.Ready(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready", "reason": "dependency_unavailable"})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
}

// recoveryMiddleware catches panics and returns a 500 error instead of
// crashing the server.
func recoveryMiddleware(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error":   "internal server error",
					"code":    "INTERNAL_ERROR",
					"message": "An unexpected error occurred. Please try again.",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(next http.Handler, origins string) http.Handler {
	if origins == "" {
		origins = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// metricsMiddleware records per-request metrics.
func metricsMiddleware(next http.Handler, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTP(r.Method, r.URL.Path, wrapped.status, time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// inFlightMiddleware tracks in-flight HTTP requests for graceful shutdown.
func inFlightMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&inFlightCounter, 1)
		defer atomic.AddInt64(&inFlightCounter, -1)
		next.ServeHTTP(w, r)
	})
}

// drainInFlight waits for all in-flight requests to complete or timeout.
// Returns true if all requests completed, false if the timeout was reached.
func drainInFlight(timeout time.Duration, log *logger.Logger) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		count := atomic.LoadInt64(&inFlightCounter)
		if count == 0 {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ticker.C:
			log.Info("Draining in-flight requests", "remaining", count)
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}
