package game

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomInfoHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	reg := NewRegistry(time.Minute, zerolog.Nop())
	d := NewDispatcher(m, reg, 30*time.Second, zerolog.Nop())
	h := NewHandler(d, m, zerolog.Nop())

	r := gin.New()
	r.GET("/rooms/:id", h.RoomInfoHandler)

	t0 := time.Now()
	room := mustCreate(t, m, t0)
	mustJoin(t, m, room.Code, "ada", newRecorderConn("conn-1"), t0)

	req := httptest.NewRequest(http.MethodGet, "/rooms/"+strings.ToLower(room.Code), nil)
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var snap RoomSnapshot
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &snap))
	assert.Equal(t, room.Code, snap.RoomID)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "ada", snap.Players[0].DisplayName)

	req = httptest.NewRequest(http.MethodGet, "/rooms/NOSUCHRM", nil)
	res = httptest.NewRecorder()
	r.ServeHTTP(res, req)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"error":"room-not-found"}`, res.Body.String())
}
