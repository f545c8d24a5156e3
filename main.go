package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogotex/sessionguard/handlers"
	"github.com/gogotex/sessionguard/internal/app"
	"github.com/gogotex/sessionguard/internal/config"
	"github.com/gogotex/sessionguard/internal/sweeper"
	"github.com/gogotex/sessionguard/internal/tokens"
	"github.com/gogotex/sessionguard/internal/users"
	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/metrics"
	"github.com/gogotex/sessionguard/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL is read again from config below; this covers config errors
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)
	logger.Infof("config loaded: store=%s mongo=%v redis=%v rate_limit=%v", cfg.Sessions.Store, cfg.MongoDB.URI != "", cfg.Redis.Enabled(), cfg.RateLimit.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open stores: %v", err)
	}
	defer stores.Close()

	signer, err := tokens.NewSigner(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer)
	if err != nil {
		logger.Fatalf("jwt signer: %v", err)
	}
	blacklist := tokens.NewBlacklist(stores.Redis)
	if stores.Redis == nil {
		logger.Warnf("Redis not configured: logout cannot revoke access tokens before they expire")
	}

	sessionsSvc := app.SessionService(cfg, stores.Sessions, app.EventSink(ctx, cfg, stores.Redis))
	userSvc := users.NewService(stores.Users, cfg.Users.BcryptCost)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Retry-After")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	if cfg.RateLimit.Enabled {
		limits := middleware.Limits{
			middleware.CategoryLogin:  cfg.RateLimit.LoginPerMinute,
			middleware.CategorySignup: cfg.RateLimit.SignupPerMinute,
			middleware.CategoryAPI:    cfg.RateLimit.APIPerMinute,
		}
		var limiter middleware.Limiter
		if cfg.RateLimit.UseRedis {
			limiter = middleware.NewRedisLimiter(stores.Redis, limits, "")
		} else {
			limiter, err = middleware.NewMemoryLimiter(limits, cfg.RateLimit.MaxBuckets)
			if err != nil {
				logger.Fatalf("rate limiter: %v", err)
			}
		}
		logger.Infof("rate limiter enabled: backend=%s", limiter.Name())
		r.Use(middleware.RateLimitMiddleware(limiter, middleware.DefaultRules(cfg.RateLimit.APIPrefixes), cfg.RateLimit.TrustProxyHeaders))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// 200 only when every connected backend answers
	r.GET("/ready", func(c *gin.Context) {
		rctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps, ok := stores.Ready(rctx)
		uptime := time.Since(startTime).String()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
	})

	handlers.NewAuthHandler(userSvc, sessionsSvc, signer, blacklist, cfg.RateLimit.TrustProxyHeaders).Register(r)
	handlers.RegisterSwagger(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var sw *sweeper.Sweeper
	if cfg.Sessions.SweeperEnabled {
		sw = sweeper.New(sessionsSvc, cfg.Sessions.SweepSchedule)
		if err := sw.Start(); err != nil {
			logger.Fatalf("session sweeper: %v", err)
		}
		defer sw.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting sessionguard on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
}
