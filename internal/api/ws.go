package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"logsift/internal/bulk"
	"logsift/internal/hub"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RealtimeSocket pushes every ingested record, rendered in the zone of the
// connecting client.
func (h *Handler) RealtimeSocket(c *gin.Context) {
	if h.Realtime == nil {
		c.Status(http.StatusNotFound)
		return
	}
	zone := h.requestZone(c)
	stream(c, h.Logger, "realtime", h.Realtime, func(rec record.Record) any {
		return rec.Fields(zone)
	})
}

// JobSocket pushes job events. Events keep the zone of the request that
// started the job.
func (h *Handler) JobSocket(c *gin.Context) {
	if h.Jobs == nil {
		c.Status(http.StatusNotFound)
		return
	}
	stream(c, h.Logger, "job", h.Jobs, func(p bulk.Payload) any {
		return p
	})
}

// stream upgrades the request and writes every value broadcast on src until
// the client goes away or the hub closes. Client messages are discarded.
func stream[T any](c *gin.Context, log logger.Logger, channel string, src *hub.Hub[T], render func(T) any) {
	ctx := logging.WithRemoteAddr(c.Request.Context(), c.ClientIP())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WarnwCtx(ctx, "Websocket upgrade failed", "channel", channel, "error", err)
		return
	}
	defer conn.Close()

	sub := src.Subscribe()
	defer sub.Cancel()
	log.InfowCtx(ctx, "Websocket connected", "channel", channel)
	defer log.InfowCtx(ctx, "Websocket closed", "channel", channel)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case v, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(render(v)); err != nil {
				log.WarnwCtx(ctx, "Websocket write failed", "channel", channel, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
