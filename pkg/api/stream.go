package api

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
)

// StreamSession upgrades to a WebSocket and forwards the session's events
// as JSON text frames until the client goes away. Events missed while
// disconnected are not replayed.
func (s *Server) StreamSession(c echo.Context) error {
	events, unsubscribe, err := s.controller.Subscribe(userID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		unsubscribe()
		logger.Warn("Failed to upgrade WebSocket: %v", err)
		return nil
	}
	logger.Info("Stream opened for session %s", c.Param("id"))

	// reader: handles pongs and notices the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("WebSocket error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		unsubscribe()
		ws.Close()
		logger.Info("Stream closed for session %s", c.Param("id"))
	}()

	for {
		select {
		case <-closed:
			return nil
		case ev, ok := <-events:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return nil
			}
			if err := ws.WriteJSON(ev); err != nil {
				logger.Warn("Failed to write event: %v", err)
				return nil
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
