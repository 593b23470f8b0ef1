package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campuslink/core/internal/config"
	"github.com/campuslink/core/internal/database"
	"github.com/campuslink/core/internal/middleware"
	"github.com/campuslink/core/internal/modules/auth"
	"github.com/campuslink/core/internal/modules/chat"
	"github.com/campuslink/core/internal/modules/gateway"
	"github.com/campuslink/core/internal/modules/presence"
	"github.com/campuslink/core/internal/modules/revocation"
	pkgcron "github.com/campuslink/core/internal/pkg/cron"
	jwtpkg "github.com/campuslink/core/internal/pkg/jwt"
	pkgredis "github.com/campuslink/core/internal/pkg/redis"
	"github.com/campuslink/core/internal/pkg/response"
	"github.com/campuslink/core/internal/pkg/session"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	mongo  *mongo.Client
	logger *zap.Logger

	revocations revocation.Store
	sessions    *session.Manager
	hub         *gateway.Hub
	chat        *chat.Service
	auth        *auth.Service
	sched       *pkgcron.Scheduler
}

// New wires config → DB → Redis → credentials → gateway → chat → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := applyRuntimeSettings(cfg); err != nil {
		return nil, err
	}
	response.SetProduction(cfg.IsProduction())

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.db = db

	if err := a.connectRedis(); err != nil {
		return nil, err
	}
	revocations, err := a.selectRevocationStore()
	if err != nil {
		return nil, err
	}
	a.revocations = revocations

	issuer, err := jwtpkg.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewManager(issuer, revocations)

	a.hub = gateway.NewHub(a.rc, a.sessions, presence.NewTracker(), logger, gateway.Options{
		Namespace:        cfg.Gateway.Namespace,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Fanout:           cfg.Gateway.Fanout,
	})

	a.auth = auth.NewService(db, a.newVerifier(), a.sessions, logger)

	store, err := a.newChatStore()
	if err != nil {
		return nil, err
	}
	a.chat = chat.NewService(store, a.hub, chat.WithDirectory(a.auth), chat.WithLogger(logger))
	a.hub.SetMessageHandler(a.chat)

	a.sched = pkgcron.New(logger)
	if err := registerCronJobs(a.sched, a.db, a.revocations, cfg); err != nil {
		return nil, err
	}

	a.router = newRouter(cfg, logger)
	a.registerRoutes()

	logger.Info("application ready",
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Driver),
		zap.String("chat_store", store.Kind()),
		zap.String("revocation", revocations.Kind()),
		zap.Bool("redis", a.rc != nil),
	)
	ok = true
	return a, nil
}

func (a *App) connectRedis() error {
	url := a.cfg.Redis.URLValue()
	if url == "" {
		if a.cfg.Revocation.Store == config.RevocationRedis {
			return fmt.Errorf("redis: revocation.store is redis but no redis is configured")
		}
		return nil
	}
	rc, err := pkgredis.Connect(url)
	if err != nil {
		if a.cfg.Revocation.Store == config.RevocationRedis {
			return fmt.Errorf("redis: %w", err)
		}
		a.logger.Warn("redis unavailable, continuing without it", zap.Error(err))
		return nil
	}
	a.rc = rc
	return nil
}

// selectRevocationStore picks the shared Redis store when Redis is up, the
// in-process store otherwise.
func (a *App) selectRevocationStore() (revocation.Store, error) {
	switch a.cfg.Revocation.Store {
	case config.RevocationMemory:
		return revocation.NewMemoryStore(), nil
	case config.RevocationRedis:
		if a.rc == nil {
			return nil, errors.New("redis revocation store requested without redis")
		}
		return revocation.NewRedisStore(a.rc, ""), nil
	default:
		if a.rc != nil {
			return revocation.NewRedisStore(a.rc, ""), nil
		}
		a.logger.Warn("revocations are process-local; run a single instance or configure redis")
		return revocation.NewMemoryStore(), nil
	}
}

func (a *App) newVerifier() auth.Verifier {
	if a.cfg.Auth.Verifier == config.VerifierRemote {
		return auth.NewRemoteVerifier(a.cfg.Auth.RemoteURL, a.cfg.Auth.RemoteTimeout)
	}
	return auth.NewLocalVerifier(a.db)
}

func (a *App) newChatStore() (chat.Store, error) {
	if a.cfg.ChatStore != config.ChatStoreMongo {
		return chat.NewGormStore(a.db), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, db, err := database.ConnectMongo(ctx, a.cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	a.mongo = client
	store := chat.NewMongoStore(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return store, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Hub exposes the connection gateway.
func (a *App) Hub() *gateway.Hub { return a.hub }

// Sessions exposes the credential gate.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Scheduler exposes background jobs.
func (a *App) Scheduler() *pkgcron.Scheduler { return a.sched }

// Serve runs the HTTP server, the gateway loop and the scheduler until ctx is done or
// one of them fails, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.sched.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases connections. It is safe to call more than once.
func (a *App) Close() {
	if a.mongo != nil {
		_ = a.mongo.Disconnect(context.Background())
		a.mongo = nil
	}
	if a.rc != nil {
		_ = a.rc.Close()
		a.rc = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		a.db = nil
	}
}

func newRouter(cfg *config.AppConfig, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if strings.EqualFold(cfg.Env, "test") {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(newCORS(cfg))
	return router
}
