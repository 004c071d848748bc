package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// sseKeepAlive is the idle interval after which a comment line is emitted
// to keep intermediaries from closing the stream.
const sseKeepAlive = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamWebSocket pushes matching events over a WebSocket until the client
// disconnects.
func (s *Server) streamWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.deps.Broker.Subscribe(
		c.Query("recipient_id"),
		c.Query("channel"),
		c.DefaultQuery("include_broadcast", "true") == "true",
	)
	defer s.deps.Broker.Unsubscribe(sub.ID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case e := <-sub.C:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

// streamSSE pushes matching events as server-sent events, emitting a
// keep-alive comment on idle.
func (s *Server) streamSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	flusher.Flush()

	sub := s.deps.Broker.Subscribe(
		c.Query("recipient_id"),
		c.Query("channel"),
		c.DefaultQuery("include_broadcast", "true") == "true",
	)
	defer s.deps.Broker.Unsubscribe(sub.ID)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-sub.C:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := c.Writer.WriteString("data: " + string(data) + "\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
