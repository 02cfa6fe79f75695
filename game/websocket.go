package game

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketConnection is the transport seam between the dispatcher and
// gorilla/websocket, kept narrow so tests can stand in a mock.
type WebsocketConnection interface {
	Close(reason string)
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
}

type websocketConnection struct {
	socket *websocket.Conn
	wmu    sync.Mutex
}

func (wc *websocketConnection) Write(data []byte) error {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	return wc.socket.WriteMessage(websocket.TextMessage, data)
}

func (wc *websocketConnection) Ping() error {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	return wc.socket.WriteMessage(websocket.PingMessage, nil)
}

func (wc *websocketConnection) Read() ([]byte, error) {
	_, p, err := wc.socket.ReadMessage()
	return p, err
}

func (wc *websocketConnection) Close(reason string) {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	wc.socket.SetWriteDeadline(time.Now().Add(time.Second * 20))
	wc.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	wc.socket.Close()
}

func NewWebsocketConnection(conn *websocket.Conn) *websocketConnection {
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(time.Minute))
		return nil
	})
	return &websocketConnection{socket: conn}
}
