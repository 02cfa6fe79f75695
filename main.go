package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"playsync/config"
	"playsync/game"
	"playsync/storage"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if len(allowedOrigins) > 0 {
		r.Use(func(ctx *gin.Context) {
			origin := ctx.Request.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, origin) {
				ctx.Next()
				return
			}
			ctx.String(http.StatusForbidden, "forbidden origin")
			ctx.Abort()
		})

		r.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowCredentials: true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{
				"Content-Type",
				"Upgrade",
				"Connection",
				"Sec-WebSocket-Key",
				"Sec-WebSocket-Version",
				"Sec-WebSocket-Extensions",
				"Sec-WebSocket-Protocol",
			},
		}))
	}

	return r
}

func main() {
	cfg := config.Load()

	var out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log := zerolog.New(out).With().Timestamp().Logger()
	if !cfg.Debug {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store, err := storage.New(cfg.StorageFile, time.Now(), log)
	if err != nil {
		// The store still runs, starting empty; the next write
		// replaces the unreadable file.
		log.Error().Err(err).Str("path", cfg.StorageFile).Msg("room store was unreadable, starting empty")
	}
	defer store.Close()

	mgr := game.NewManager(store, game.NewCodeGen(), game.NewTickerGen(), game.ManagerOptions{
		RoomTTL: cfg.RoomTTL,
		Engine: game.EngineOptions{
			RoundDuration: cfg.RoundDuration,
			TickInterval:  cfg.TickInterval,
			RevealPause:   cfg.RevealPause,
			Tie:           game.ParseTiePolicy(cfg.TiePolicy),
		},
	}, log)

	reg := game.NewRegistry(cfg.DisconnectGrace, log)
	disp := game.NewDispatcher(mgr, reg, cfg.PingInterval, log)
	reg.SetEvictFunc(disp.EvictAfterGrace)

	go func() {
		sweep := time.NewTicker(cfg.SweepInterval)
		defer sweep.Stop()
		for range sweep.C {
			if n := mgr.CleanupExpired(time.Now()); n > 0 {
				log.Info().Int("rooms", n).Msg("swept expired rooms")
			}
		}
	}()

	h := game.NewHandler(disp, mgr, log)

	r := CreateServer(cfg.AllowedOrigins)
	r.GET("/health", game.HealthHandler)
	r.GET("/ws", h.WSHandler)
	r.GET("/rooms/:id", h.RoomInfoHandler)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("playsync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not finish cleanly")
	}
}
