// MediaWiki API MCP Server - exposes continuation-aware MediaWiki queries as
// Model Context Protocol tools.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olgasafonova/mediawiki-api-go/tools"
	"github.com/olgasafonova/mediawiki-api-go/tracing"
	"github.com/olgasafonova/mediawiki-api-go/wiki"
)

const (
	ServerName    = "mediawiki-api-go"
	ServerVersion = "1.0.0"
)

func main() {
	// Configure logging to stderr (stdout is used for MCP protocol)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("MEDIAWIKI_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	config, err := wiki.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	client := wiki.NewClient(config, logger)
	defer client.Close()

	if addr := os.Getenv("MEDIAWIKI_METRICS_ADDR"); addr != "" {
		metricsServer := newMetricsServer(addr)
		go func() {
			logger.Info("Serving metrics", "addr", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, &mcp.ServerOptions{
		Logger: logger,
		Instructions: `MediaWiki API MCP Server runs read queries against one MediaWiki wiki and follows API continuation for you.

Available tools:
- mediawiki_query_pages: Page property queries with every continued fragment merged per page
- mediawiki_query: Any continuation-style action, raw result per response
- mediawiki_site_info: Site name, version and connection health

Configure via environment variables:
- MEDIAWIKI_URL: Wiki API URL (e.g., https://en.wikipedia.org/w/api.php)
- MEDIAWIKI_USERNAME / MEDIAWIKI_PASSWORD: Bot credentials (optional, login happens on first call)`,
	})

	tools.NewHandlerRegistry(client, logger).RegisterAll(server)

	logger.Info("Starting MediaWiki API MCP Server",
		"name", ServerName,
		"version", ServerVersion,
		"wiki_url", config.BaseURL,
	)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// newMetricsServer exposes the Prometheus registry on /metrics.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// parseLogLevel maps MEDIAWIKI_LOG_LEVEL to a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
