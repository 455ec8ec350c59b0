package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mizuki-dev/starwatch/internal/config"
	"github.com/mizuki-dev/starwatch/internal/controller"
	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/internal/feed"
	"github.com/mizuki-dev/starwatch/internal/gateway"
	"github.com/mizuki-dev/starwatch/internal/handler"
	"github.com/mizuki-dev/starwatch/internal/pubsub"
	"github.com/mizuki-dev/starwatch/internal/repository"
	"github.com/mizuki-dev/starwatch/internal/session"
	"github.com/mizuki-dev/starwatch/internal/stats"
	"github.com/mizuki-dev/starwatch/internal/tracker"
	"github.com/mizuki-dev/starwatch/pkg/database"
	pkglog "github.com/mizuki-dev/starwatch/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "starwatch",
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.AutoMigrate(db, &domain.TrackedRoomModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	roomRepo := repository.NewGormRoomRepository(db)

	// Statistics backend
	var store stats.Store
	switch cfg.Stats.Driver {
	case "memory":
		store = stats.NewMemoryStore()
	default:
		store, err = stats.NewRedisStore(stats.RedisConfig{
			Address:  cfg.Stats.Address,
			Password: cfg.Stats.Password,
			DB:       cfg.Stats.DB,
			PoolSize: cfg.Stats.PoolSize,
			Prefix:   cfg.Stats.Prefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to statistics backend")
		}
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Stats.Driver).Msg("statistics backend ready")

	// External event bridge
	var bridge pubsub.Bridge
	if cfg.Bridge.Enabled {
		bridge, err = pubsub.NewRedisBridge(pubsub.Config{
			Address:  cfg.Bridge.Address,
			Password: cfg.Bridge.Password,
			DB:       cfg.Bridge.DB,
			PoolSize: cfg.Bridge.PoolSize,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to event bridge")
		}
		defer bridge.Close()
		logger.Info().Msg("event bridge connected")
	}

	// Live gateway REST client
	gw := gateway.NewClient(cfg.Gateway.APIBase, cfg.Gateway.UserAgent, cfg.Gateway.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Social-feed poller
	var poller *feed.Poller
	if cfg.Feed.Enabled {
		poller = feed.NewPoller(gw, cfg.Feed.Interval)
		go poller.Run(ctx)
	}

	// Room tracker
	var publisher pubsub.Publisher
	if bridge != nil {
		publisher = bridge
	}
	trk := tracker.New(roomRepo, gw, store, publisher, poller, tracker.Config{
		StaggerDelay: cfg.Tracker.StaggerDelay,
		StartupWait:  cfg.Tracker.StartupWait,
		Session: session.Config{
			UID:          cfg.Session.UID,
			Buvid:        cfg.Session.Buvid,
			RetryBackoff: cfg.Session.RetryBackoff,
			DialTimeout:  cfg.Session.DialTimeout,
		},
		Controller: controller.Config{
			GraceWindow: cfg.Room.GraceWindow,
			Counts: controller.Counts{
				Chat:   cfg.Room.CountChat,
				Gifts:  cfg.Room.CountGifts,
				Paid:   cfg.Room.CountPaid,
				Guards: cfg.Room.CountGuards,
			},
		},
	})
	go func() {
		if err := trk.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("tracker start failed")
		}
	}()

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	handler.NewHandler(trk, store).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info().Str("addr", addr).Msg("starwatch starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	cancel()
	trk.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown failed")
	}
}
