package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"learnhub/internal/archive"
	"learnhub/internal/auth"
	"learnhub/internal/content"
	"learnhub/internal/feed"
	"learnhub/internal/middleware"
	"learnhub/internal/packages"
	"learnhub/internal/storage"
	"learnhub/pkg/database"
	"learnhub/pkg/logger"
	"learnhub/pkg/utils"
)

// App holds the wired service. Build it with New and release it with Close.
type App struct {
	Cfg      utils.Config
	Log      *logger.Logger
	DB       *sql.DB
	Store    *storage.Store
	Hub      *feed.Hub
	Feed     *feed.Server
	Packages *packages.Service
	Tokens   auth.TokenService
	Users    *auth.Repo
}

func New(cfg utils.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout(),
		JournalMode: cfg.Database.JournalMode,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	store := storage.New(cfg.Storage, log.With("component", "storage"))
	if err := store.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	extractor := archive.NewExtractor(archive.Limits{
		MaxEntries: cfg.Storage.MaxEntries,
		MaxBytes:   cfg.Storage.MaxExtractedBytes(),
	}, cfg.Storage.ManifestName, log.With("component", "archive"))

	hub := feed.NewHub(log.With("component", "feed"))
	svc := packages.NewService(packages.NewRepo(db), store, extractor, hub,
		log.With("component", "packages"), cfg.Storage.MaxUploadBytes())

	return &App{
		Cfg:      cfg,
		Log:      log,
		DB:       db,
		Store:    store,
		Hub:      hub,
		Feed:     feed.NewServer(cfg.Server.FeedAddr, hub, log.With("component", "feed")),
		Packages: svc,
		Tokens:   auth.NewTokenService(cfg.Auth),
		Users:    auth.NewRepo(db),
	}, nil
}

// Router mounts every HTTP endpoint.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(a.Log), middleware.CORS(a.Cfg.Server.CORSOrigins))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/ws", feed.WSHandler(a.Hub))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", a.ready)

	auth.NewHandler(a.Users, a.Tokens, a.Log.With("component", "auth")).RegisterRoutes(router.Group("/auth"))

	pkgHandler := packages.NewHandler(a.Packages, a.Cfg.Storage.MaxUploadBytes())
	public := router.Group("/packages")
	pkgHandler.RegisterRoutes(public)
	pkgHandler.RegisterTaxonomyRoutes(router.Group("/taxonomy"))

	resolver := content.NewResolver(a.Packages, a.Store, a.Log.With("component", "content"))
	gateway := content.NewGateway(time.Duration(a.Cfg.Server.CacheMaxAgeSeconds)*time.Second, a.Log.With("component", "content"))
	content.NewHandler(resolver, gateway).RegisterRoutes(public)

	admin := router.Group("/admin/packages", auth.AuthMiddleware(a.Tokens, a.Users), auth.RequireAdmin())
	pkgHandler.RegisterAdminRoutes(admin)

	return router
}

func (a *App) ready(c *gin.Context) {
	stats := a.Hub.Stats()
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := a.DB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "not_ready",
			"db_error":    err.Error(),
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"db":          "ok",
		"tcp_clients": stats.TCPClients,
		"ws_clients":  stats.WSClients,
	})
}

// RunJanitor sweeps stale staging files every interval until ctx ends.
func (a *App) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report, err := a.Store.SweepStaging(ctx, a.Cfg.Storage.StagingMaxAge())
			switch {
			case errors.Is(err, storage.ErrJanitorBusy):
				a.Log.Debug("staging sweep skipped, another instance holds the lock")
			case err != nil:
				a.Log.Warn("staging sweep failed", "error", err)
			case len(report.Removed) > 0 || !report.OK():
				a.Log.Info("staging swept", "removed", len(report.Removed), "errors", len(report.Errors))
			}
		}
	}
}

func (a *App) Close() error {
	a.Hub.Close()
	return a.DB.Close()
}
