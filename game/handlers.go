package game

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Handler struct {
	dispatcher *Dispatcher
	mgr        *Manager
	log        zerolog.Logger
}

func NewHandler(dispatcher *Dispatcher, mgr *Manager, log zerolog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, mgr: mgr, log: log}
}

// WSHandler upgrades the request and hands the socket to the
// dispatcher. The origin check already ran in middleware, so the
// upgrader accepts everything it sees.
func (h *Handler) WSHandler(ctx *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Str("ip", ctx.ClientIP()).Msg("ws upgrade failed")
		return
	}
	h.dispatcher.Serve(NewWebsocketConnection(conn))
}

// RoomInfoHandler reports a room's current state without joining it,
// for lobby pages that want to show who is already inside.
func (h *Handler) RoomInfoHandler(ctx *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(ctx.Param("id")))
	snap, err := h.mgr.Snapshot(code)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomExpired) {
			ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errorKind(err)})
			return
		}
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": internalErrorKind})
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

func HealthHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}
