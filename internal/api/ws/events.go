package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/preview"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// eventBuffer is how far a client may fall behind before it is dropped
	eventBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams preview host events to websocket clients
type EventsHandler struct {
	previews *preview.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(previews *preview.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{previews: previews, metrics: metrics, logger: logger}
}

// HandleConnection replays the recorded events after ?after=N and then
// streams new ones as JSON text frames until the client goes away.
func (h *EventsHandler) HandleConnection(c *gin.Context) {
	p, err := h.previews.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var after uint64
	if raw := c.Query("after"); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a sequence number"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	logger := h.logger.With(zap.String("preview", p.ID().String()))
	logger.Debug("Event stream opened", zap.Uint64("after", after))

	// Subscribe before reading the history so nothing falls in between
	records := make(chan preview.Record, eventBuffer)
	lagging := make(chan struct{})
	unsubscribe := p.Subscribe(func(r preview.Record) {
		select {
		case records <- r:
		default:
			select {
			case <-lagging:
			default:
				close(lagging)
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go readPump(conn, closed)

	last := after
	for _, r := range p.History(after) {
		if err := writeRecord(conn, r); err != nil {
			return
		}
		last = r.Seq
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case r := <-records:
			if r.Seq <= last {
				continue
			}
			if err := writeRecord(conn, r); err != nil {
				logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
			last = r.Seq
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-lagging:
			logger.Warn("Event stream client fell behind")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "lagging"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			logger.Debug("Event stream closed")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeRecord(conn *websocket.Conn, r preview.Record) error {
	data, err := sonic.Marshal(r)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump discards client frames and signals when the connection ends
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
