// Command gateway is ProxyCast's entrypoint: it wires every component
// (gwconfig.Store, credpool.Pool, tokencache.Cache, the adaptor.Registry,
// relay/router.Router, monitor.Registry) together and serves both the
// client-facing relay API and the loopback-only management API over one
// gin.Engine, mirroring the teacher's main.go structure — DB init, logger
// setup, gin.New() plus a teacher-idiom middleware stack, then
// server.Run() — generalized from one-api's much larger multi-subsystem
// boot sequence down to the gateway's six components, and extended with
// the graceful-shutdown pattern the teacher itself never wires up despite
// shipping a common/graceful package (grounded instead on
// BaSui01-agentflow/cmd/agentflow/server.go's Server/Start()
// signal-then-Shutdown shape).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	gmw "github.com/Laisky/gin-middlewares/v6"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/common/config"
	"github.com/proxycast/gateway/common/graceful"
	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/common/random"
	"github.com/proxycast/gateway/controller"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/gwconfig"
	"github.com/proxycast/gateway/middleware"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/monitor"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/adaptor/antigravity"
	"github.com/proxycast/gateway/relay/adaptor/claudekey"
	"github.com/proxycast/gateway/relay/adaptor/claudeoauth"
	"github.com/proxycast/gateway/relay/adaptor/codex"
	"github.com/proxycast/gateway/relay/adaptor/gemini"
	"github.com/proxycast/gateway/relay/adaptor/geminiapikey"
	"github.com/proxycast/gateway/relay/adaptor/iflow"
	"github.com/proxycast/gateway/relay/adaptor/kiro"
	"github.com/proxycast/gateway/relay/adaptor/openaikey"
	"github.com/proxycast/gateway/relay/adaptor/qwen"
	"github.com/proxycast/gateway/relay/adaptor/vertex"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/router"
	"github.com/proxycast/gateway/tokencache"
)

func main() {
	if err := model.InitDB(); err != nil {
		logger.Logger.Fatal("failed to init database", zap.Error(err))
	}

	cache := tokencache.New(model.DB)
	pool := credpool.New(model.DB)
	registry := adaptor.NewRegistry()

	registerAdaptors(pool, cache, registry)

	cfgPath := filepath.Join(config.ConfigDir, "config.yaml")
	initial, err := gwconfig.Load(cfgPath)
	if err != nil {
		logger.Logger.Fatal("failed to load config", zap.Error(err))
	}
	if initial.Server.APIKey == "" {
		initial.Server.APIKey = random.GenerateAPIKey()
		if err := gwconfig.Save(cfgPath, initial); err != nil {
			logger.Logger.Fatal("failed to persist generated API key", zap.Error(err))
		}
		logger.Logger.Info("generated client API key on first run", zap.String("api_key", initial.Server.APIKey))
	}
	cfgStore := gwconfig.NewStore(initial)

	metrics := monitor.New()
	registerObservers(cfgStore, metrics)

	if err := os.MkdirAll(config.ConfigDir, 0o700); err != nil {
		logger.Logger.Fatal("failed to create config dir", zap.Error(err))
	}
	watcher, err := gwconfig.NewWatcher(cfgPath, cfgStore)
	if err != nil {
		logger.Logger.Warn("config hot-reload watcher unavailable, continuing without it", zap.Error(err))
	} else {
		watcher.Start()
		defer watcher.Close()
	}

	r := router.New(pool, cache, registry, cfgStore)
	handlers := controller.NewHandlers(pool, r, cfgStore)

	engine := newEngine(cfgStore, handlers, metrics)

	addr := initial.Server.Host + ":" + strconv.Itoa(initial.Server.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		logger.Logger.Info("gateway started", zap.String("address", "http://"+addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	waitForShutdown(srv)
}

// registerAdaptors wires every provider's Register (pool/cache refresher +
// source-reader hookup) and adds its Adaptor to the registry, mirroring
// the teacher's relay.adaptors initialization loop generalized across
// ProxyCast's ten supported providers (spec.md §4.D).
func registerAdaptors(pool *credpool.Pool, cache *tokencache.Cache, registry *adaptor.Registry) {
	kiro.Register(pool, cache)
	registry.Register(channeltype.Kiro, kiro.New())

	codex.Register(pool, cache)
	registry.Register(channeltype.Codex, codex.New())

	antigravity.Register(pool, cache)
	registry.Register(channeltype.Antigravity, antigravity.New())

	gemini.Register(pool, cache)
	registry.Register(channeltype.Gemini, gemini.New())

	qwen.Register(pool, cache)
	registry.Register(channeltype.Qwen, qwen.New())

	iflow.Register(pool, cache)
	registry.Register(channeltype.IFlow, iflow.New())

	claudeoauth.Register(pool, cache)
	registry.Register(channeltype.ClaudeOAuth, claudeoauth.New())

	openaikey.Register(pool, cache)
	registry.Register(channeltype.OpenAIKey, openaikey.New())

	claudekey.Register(pool, cache)
	registry.Register(channeltype.ClaudeKey, claudekey.New())

	geminiapikey.Register(pool, cache)
	registry.Register(channeltype.GeminiAPIKey, geminiapikey.New())

	vertex.Register(pool, cache)
	registry.Register(channeltype.Vertex, vertex.New())
}

// registerObservers wires the config bus's two process-wide observers:
// a structured-logging observer (priority 50, matching the Logging slot
// documented on gwconfig.Observer) and a metrics observer recording every
// reload outcome, since the monitor.Registry has no other hook into
// Store.Reload's return value once it runs inside the fsnotify watcher
// goroutine.
func registerObservers(cfgStore *gwconfig.Store, metrics *monitor.Registry) {
	cfgStore.Register(gwconfig.ObserverFunc{
		FuncName:     "logging",
		FuncPriority: 50,
		Fn: func(ev gwconfig.ChangeEvent) {
			logger.Logger.Info("config changed",
				zap.String("kind", string(ev.Kind)), zap.String("source", string(ev.Source)))
		},
	})
	cfgStore.Register(gwconfig.ObserverFunc{
		FuncName:     "metrics",
		FuncPriority: 1000,
		Fn: func(ev gwconfig.ChangeEvent) {
			metrics.RecordConfigReload("applied")
		},
	})
}

// newEngine builds the gin.Engine: teacher-idiom middleware stack
// (gin.Recovery as a last-resort net, the gateway's own PanicRecover,
// gmw's structured request logger, RequestId), the Prometheus /metrics
// endpoint, the remote-management API behind middleware.ManagementAuth,
// and the client-facing relay catch-all.
func newEngine(cfgStore *gwconfig.Store, h *controller.Handlers, metrics *monitor.Registry) *gin.Engine {
	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.Use(
		gin.Recovery(),
		middleware.PanicRecover(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
		middleware.RequestId(),
	)

	engine.GET("/health", h.Health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	relayGroup := engine.Group("/", middleware.ClientAuth(cfgStore))
	relayGroup.GET("/v1/models", h.Models)
	// Closed path set (spec.md §6 "Server-side"): flavor-bearing top-level
	// routes for direct AI-tool clients, plus an endpoint-scoped variant per
	// client (Cursor/Claude Code/Codex/Windsurf/Kiro/other) whose trailing
	// :path segment carries the sub-API, all dispatched through the same
	// Handlers.Relay — endpointFromPath resolves the flavor either way.
	relayGroup.POST("/v1/chat/completions", h.Relay)
	relayGroup.POST("/v1/messages", h.Relay)
	relayGroup.POST("/v1beta/models/:model", h.Relay)
	relayGroup.POST("/cursor/*path", h.Relay)
	relayGroup.POST("/claude_code/*path", h.Relay)
	relayGroup.POST("/codex/*path", h.Relay)
	relayGroup.POST("/windsurf/*path", h.Relay)
	relayGroup.POST("/kiro/*path", h.Relay)
	relayGroup.POST("/other/*path", h.Relay)

	mgmt := engine.Group("/management", middleware.ManagementAuth(cfgStore))
	mgmt.GET("/overview", h.Overview)
	mgmt.GET("/routes", h.Routes)
	mgmt.POST("/credentials", h.AddCredential)
	mgmt.GET("/credentials/:type", h.ListCredentials)
	mgmt.PUT("/credentials/:uuid", h.UpdateCredential)
	mgmt.DELETE("/credentials/:uuid", h.DeleteCredential)
	mgmt.POST("/credentials/:uuid/toggle", h.ToggleCredential)
	mgmt.POST("/credentials/:uuid/reset", h.ResetCredential)

	return engine
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains in-flight
// requests and critical background tasks within config.ShutdownTimeout,
// matching the teacher's common/graceful package (never actually wired
// into the teacher's own main.go) and BaSui01-agentflow's server.go
// shutdown shape.
func waitForShutdown(srv *http.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Logger.Info("shutdown signal received, draining")
	graceful.SetDraining()

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := graceful.Drain(ctx); err != nil {
		logger.Logger.Error("graceful drain incomplete", zap.Error(err))
	}
	logger.Logger.Info("gateway stopped")
}

