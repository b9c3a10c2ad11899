// Package http holds the read-only REST handlers.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/core"
)

// ReadModel is the registry's read side.
type ReadModel interface {
	Rooms(ctx context.Context) ([]core.RoomInfo, error)
	Stats(ctx context.Context) (core.Stats, error)
}

type Handlers struct {
	reg ReadModel
	ice []byte
}

// NewHandlers serves reads from reg; ice is the JSON ICE server list.
func NewHandlers(reg ReadModel, ice []byte) *Handlers {
	return &Handlers{reg: reg, ice: ice}
}

// Register mounts the handlers on g.
func (h *Handlers) Register(g gin.IRoutes) {
	g.GET("/rooms", h.Rooms)
	g.GET("/stats", h.Stats)
	g.GET("/ice", h.ICE)
}

func (h *Handlers) Rooms(c *gin.Context) {
	rooms, err := h.reg.Rooms(c.Request.Context())
	if err != nil {
		unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handlers) Stats(c *gin.Context) {
	stats, err := h.reg.Stats(c.Request.Context())
	if err != nil {
		unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) ICE(c *gin.Context) {
	if len(h.ice) == 0 {
		c.Data(http.StatusOK, "application/json", []byte("[]"))
		return
	}
	c.Data(http.StatusOK, "application/json", h.ice)
}

// Healthz reports ok while the registry answers within a second.
func (h *Handlers) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if _, err := h.reg.Stats(ctx); err != nil {
		unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func unavailable(c *gin.Context, err error) {
	log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("registry unavailable")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry unavailable"})
}
