package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard only listens on loopback
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream sends a task's output so far and then every later write as
// websocket text messages until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid process type"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade to websocket")
		return
	}
	defer ws.Close()

	snapshot, chunks, cancel, err := s.registry.Subscribe(kind)
	if err != nil {
		return
	}
	defer cancel()

	// reads only detect the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.WithError(err).Debug("Websocket read error")
				}
				return
			}
		}
	}()

	if snapshot != "" {
		if err := s.send(ws, snapshot); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk := <-chunks:
			if err := s.send(ws, chunk); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.baseCtx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) send(ws *websocket.Conn, text string) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, []byte(text))
}
