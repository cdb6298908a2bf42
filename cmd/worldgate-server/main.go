package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/api"
	"github.com/worldgate/server/internal/auth"
	"github.com/worldgate/server/internal/broadcast"
	"github.com/worldgate/server/internal/bus"
	"github.com/worldgate/server/internal/config"
	"github.com/worldgate/server/internal/logging"
	"github.com/worldgate/server/internal/protocol"
	"github.com/worldgate/server/internal/session"
	"github.com/worldgate/server/internal/world"
)

// main starts one worldgate pod: the websocket endpoint for clients plus the
// bus listeners that fan cross-pod events out to local sessions.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	redisBus, err := bus.NewRedisBus(ctx, cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisBus.Close()

	registry := session.NewRegistry()
	engine := broadcast.NewEngine(registry)
	chunkStorage := world.NewChunkStorage(db)
	jwtService := auth.NewJWTService(cfg)

	listeners := []struct {
		name string
		run  func(context.Context) error
	}{
		{"movement", broadcast.NewMovementListener(redisBus, engine).Run},
		{"chunk-change", broadcast.NewChunkChangeListener(redisBus, engine, cfg.World.Worlds).Run},
		{"effect-trigger", broadcast.NewEffectListener(redisBus, engine, cfg.World.Worlds, protocol.EventEffectTrigger).Run},
		{"effect-update", broadcast.NewEffectListener(redisBus, engine, cfg.World.Worlds, protocol.EventEffectUpdate).Run},
		{"pathway", broadcast.NewPathwayListener(redisBus, engine, registry).Run},
		{"chunk-list", broadcast.NewChunkListResponder(redisBus, registry, cfg.World.PodID, cfg.World.Worlds).Run},
		{"pathway-broadcaster", broadcast.NewPathwayBroadcaster(redisBus, registry,
			cfg.World.PathwayInterval, cfg.World.PathwayPrediction, cfg.World.StaleAfter).Run},
	}
	for _, l := range listeners {
		l := l
		go func() {
			if err := l.run(ctx); err != nil {
				logrus.WithError(err).WithField("listener", l.name).Error("Listener stopped with error")
				stop()
			}
		}()
	}

	handler := api.NewHandler(cfg, registry, redisBus, jwtService, chunkStorage)
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":   server.Addr,
			"pod":    cfg.World.PodID,
			"worlds": cfg.World.Worlds,
		}).Info("worldgate server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Server shutdown incomplete")
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DatabaseURL())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
