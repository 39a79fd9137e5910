// Package api wires together all HTTP routes for the dossier service.
//
// Route grouping philosophy:
//   - Directory and search endpoints (/api/v1/towns, /api/v1/search) read the
//     in-memory directory index or issue a single upstream metadata call, so
//     they share the general rate limit.
//   - Document-fetch and analysis endpoints fan out to slow public upstreams
//     (filing PDFs, provider profiles, the model API) and carry a much
//     stricter per-IP limit so one client cannot monopolize the scraper.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/analysis"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/archive"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/db/repositories"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/dossier"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/filings"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/jobs"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/match"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/middleware"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/safego"

	// Import archive backends to register them
	_ "github.com/nonprofit-dossier/nonprofit-dossier/internal/archive/gcs"
	_ "github.com/nonprofit-dossier/nonprofit-dossier/internal/archive/local"
	_ "github.com/nonprofit-dossier/nonprofit-dossier/internal/archive/s3"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	refreshJob   *jobs.DirectoryRefreshJob
	rateLimiters []*middleware.RateLimiter
	overrides    *match.Overrides
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.refreshJob != nil {
		bg.refreshJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.overrides != nil {
		if err := bg.overrides.Close(); err != nil {
			slog.Warn("failed to close overrides watcher", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize the archive backend when archival is enabled
	var archiver archive.Archive
	if cfg.Archive.Enabled {
		var err error
		archiver, err = archive.NewArchive(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize archive backend: %v", err)
		}
		log.Printf("Initialized archive backend: %s", cfg.Archive.Backend)
	}

	// Initialize repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	directoryRepo := repositories.NewDirectoryRepository(sqlxDB)
	dossierRepo := repositories.NewDossierRepository(sqlxDB)

	// Upstream clients
	filingsClient := filings.NewClient(cfg.Filings.BaseURL,
		filings.WithTimeouts(cfg.Filings.RequestTimeout, cfg.Filings.DocumentTimeout),
		filings.WithMinInterval(cfg.Filings.MinRequestInterval),
		filings.WithUserAgent(cfg.Filings.UserAgent),
		filings.WithDefaultState(cfg.Filings.DefaultState),
	)
	scraper := directory.NewScraper(cfg.Directory)

	// Restore the most recent persisted directory snapshot so searches work
	// before the first scrape of the session completes.
	index := directory.NewIndex()
	restoreSnapshot(directoryRepo, index)

	// Matcher, with optional operator overrides
	var overrides *match.Overrides
	if cfg.Matcher.OverridesFile != "" {
		var err error
		overrides, err = match.LoadOverrides(cfg.Matcher.OverridesFile)
		if err != nil {
			log.Fatalf("Failed to load matcher overrides: %v", err)
		}
		log.Printf("Loaded %d matcher overrides from %s", overrides.Count(), cfg.Matcher.OverridesFile)
	}
	matcher := match.NewMatcher(index, overrides)

	orchestrator := dossier.NewOrchestrator(filingsClient, scraper, matcher, archiver)
	searcher := dossier.NewSearcher(filingsClient, matcher, cfg.Filings.DefaultState)

	// Narrative analyzer is optional; without it the analyze endpoint returns 503
	var analyzer analysis.Analyzer
	if cfg.Analysis.Enabled {
		geminiAnalyzer, err := analysis.NewGeminiAnalyzer(&cfg.Analysis)
		if err != nil {
			log.Fatalf("Failed to initialize analyzer: %v", err)
		}
		analyzer = geminiAnalyzer
		log.Printf("Initialized analyzer (model: %s)", cfg.Analysis.Model)
	}

	// Start the background directory refresh job
	refreshJob := jobs.NewDirectoryRefreshJob(scraper, index, directoryRepo, cfg.Directory.RefreshIntervalHours)
	safego.Go(func() {
		refreshJob.Start(context.Background())
	})

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes archive backend probe when enabled)
	router.GET("/ready", readinessHandler(db, archiver))

	// API version
	router.GET("/version", versionHandler())

	// Initialize rate limiters
	generalRateLimiter := middleware.NewRateLimiter(generalRateLimitConfig(cfg))
	fetchRateLimiter := middleware.NewRateLimiter(middleware.FetchRateLimitConfig())

	h := NewHandlers(cfg, index, scraper, filingsClient, searcher, orchestrator, analyzer, dossierRepo)

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(generalRateLimiter))
	}
	{
		// Directory browsing (in-memory index reads)
		apiV1.GET("/towns", h.ListTowns)
		apiV1.GET("/towns/:town/providers", h.ListTownProviders)

		// Unified search across the filings API and the directory
		apiV1.GET("/search/unified", h.UnifiedSearch)

		// Organization metadata and normalized financials
		apiV1.GET("/organizations/:ein", h.GetOrganization)
		apiV1.GET("/organizations/:ein/financials", h.GetFinancials)
		apiV1.GET("/organizations/:ein/fetches", h.ListFetches)

		// Upstream fan-out endpoints carry the stricter limit
		fetchGroup := apiV1.Group("")
		if cfg.Security.RateLimiting.Enabled {
			fetchGroup.Use(middleware.RateLimitMiddleware(fetchRateLimiter))
		}
		{
			fetchGroup.POST("/organizations/fetch-docs", h.FetchDocuments)
			fetchGroup.GET("/documents/fetch", h.ProxyDocument)
			fetchGroup.POST("/organizations/:ein/analyze", h.Analyze)
		}
	}

	bg := &BackgroundServices{
		refreshJob:   refreshJob,
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, fetchRateLimiter},
		overrides:    overrides,
	}

	return router, bg
}

// restoreSnapshot installs the latest persisted directory snapshot, if any.
// A restore failure is not fatal; the refresh job rebuilds the index on its
// first cycle anyway.
func restoreSnapshot(repo *repositories.DirectoryRepository, index *directory.Index) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	latest, err := repo.LatestSnapshot(ctx)
	if err != nil {
		slog.Warn("failed to look up persisted directory snapshot", "error", err)
		return
	}
	if latest == nil {
		return
	}
	snapshot, err := repo.LoadSnapshot(ctx, latest.ID)
	if err != nil {
		slog.Warn("failed to load persisted directory snapshot", "snapshot_id", latest.ID, "error", err)
		return
	}
	index.Swap(snapshot)
	log.Printf("Restored directory snapshot from %s (%d towns, %d providers)",
		latest.BuiltAt.Format(time.RFC3339), latest.TownCount, latest.ProviderCount)
}

// generalRateLimitConfig applies the configured request budget over the
// package defaults.
func generalRateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rlCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		rlCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		rlCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	return rlCfg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the archive backend
// so a readiness gate fails when document archival would error. archiver is
// nil when archival is disabled; the probe then covers the database only.
func readinessHandler(db *sql.DB, archiver archive.Archive) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archiver != nil {
			// Probe with a known-absent sentinel key. Exists() exercises
			// authentication and connectivity without creating any state.
			if _, err := archiver.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
