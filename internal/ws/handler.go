package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/logging"
	"github.com/GriffinCanCode/termhost/internal/term/session"
	"github.com/GriffinCanCode/termhost/internal/term/stream"
)

// controlMessage is a JSON text frame from the display. Binary frames
// carry raw keystrokes and need no envelope.
type controlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// Handler attaches terminal displays to sessions over WebSocket.
//
// The display consumes one split copy of the session output as binary
// frames, raw bytes straight through, markers included; the terminal
// widget ignores the unknown OSC sequences. Frames in the other
// direction are keystrokes (binary) or control messages (JSON text:
// resize, ping). Keystrokes are forwarded live regardless of whether
// a command is executing.
type Handler struct {
	manager  *session.Manager
	metrics  *monitoring.Metrics
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. Upgrade requests are
// checked against allowedOrigins, the same list the CORS middleware
// uses; "*" allows any origin.
func NewHandler(manager *session.Manager, metrics *monitoring.Metrics, log *logging.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		manager: manager,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// originAllowed reports whether origin may attach. Requests without an
// Origin header are non-browser clients and pass.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// Attach handles GET /sessions/:id/attach
func (h *Handler) Attach(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	h.metrics.RecordWSConnect()
	defer h.metrics.RecordWSDisconnect()
	h.log.Info("display attached",
		zap.String("session_id", sess.ID.String()),
		zap.String("conn_id", connID))

	done := make(chan struct{})
	go h.pumpOutput(conn, sess, done)
	h.readInput(conn, sess)
	// The client is gone; wake the pump out of its blocking read so
	// an idle session does not strand both goroutines. Skip the
	// interrupt when the pump already finished on its own, keeping the
	// reader clean for the next attachment.
	select {
	case <-done:
	default:
		sess.DisplayReader().Interrupt()
	}
	<-done

	h.log.Info("display detached",
		zap.String("session_id", sess.ID.String()),
		zap.String("conn_id", connID))
}

// pumpOutput copies the session's display stream to the socket.
func (h *Handler) pumpOutput(conn *websocket.Conn, sess *session.Session, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	buf := make([]byte, 4096)
	for {
		n, err := sess.DisplayReader().Read(buf)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
			h.metrics.RecordWSMessage("out")
		}
		if err != nil {
			if errors.Is(err, stream.ErrInterrupted) {
				return
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// readInput forwards frames from the socket to the session.
func (h *Handler) readInput(conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.metrics.RecordWSMessage("in")

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.WriteInput(data); err != nil {
				h.log.Warn("keystroke forwarding failed",
					zap.String("session_id", sess.ID.String()),
					zap.Error(err))
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "resize":
				if err := sess.Resize(msg.Cols, msg.Rows); err != nil {
					h.log.Warn("resize failed",
						zap.String("session_id", sess.ID.String()),
						zap.Error(err))
				}
			case "ping":
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	}
}
