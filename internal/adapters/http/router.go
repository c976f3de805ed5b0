package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Beam/internal/adapters/signal"
	"github.com/dkeye/Beam/internal/app"
	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Deps are the services the router exposes. A nil Directory disables the
// registry endpoints.
type Deps struct {
	Orch      *app.Orchestrator
	Signal    *signal.SignalWSController
	Directory *app.Directory
	Port      int
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "adapters.http").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(RequestLogger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Server is running")
	})

	ws := func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	}
	r.GET("/socket", ws)

	api := r.Group("/api")
	api.GET("/ws/signal", ws)

	api.GET("/status", func(c *gin.Context) {
		stats := deps.Orch.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"port":    deps.Port,
			"rooms":   stats.Rooms,
			"members": stats.Members,
		})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": deps.Orch.Rooms.List()})
	})

	api.GET("/rooms/:code", func(c *gin.Context) {
		room, ok := deps.Orch.Rooms.Get(domain.RoomCode(c.Param("code")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code":        room.Room().Code,
			"memberCount": room.MemberCount(),
			"members":     room.MembersSnapshot(),
		})
	})

	if deps.Directory != nil {
		r.POST("/register", registerHandler(deps.Directory))
		r.GET("/lookup", lookupHandler(deps.Directory))
	}

	log.Info().Str("module", "adapters.http").Bool("registry", deps.Directory != nil).Msg("router setup")
	return r
}

func registerHandler(dir *app.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec domain.Registration
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if err := dir.Register(rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "registered"})
	}
}

func lookupHandler(dir *app.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := domain.RoomCode(c.Query("roomCode"))
		if !code.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomCode required"})
			return
		}
		rec, err := dir.Lookup(code)
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
