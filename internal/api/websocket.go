package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trade-setup-assistant/internal/acquisition"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameBytes  = maxUploadBytes * 4 / 3 // base64 overhead
	captureBacklog = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// origins are already restricted by CORS and the access key
		return true
	},
}

// captureFrame is what a capture client sends: one data-URL image per frame
type captureFrame struct {
	Type  string `json:"type"`
	Image string `json:"image"`
}

// captureMessage is what the server sends back
type captureMessage struct {
	Type    string                 `json:"type"`
	Outcome acquisition.Outcome    `json:"outcome,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Event   *events.Event          `json:"event,omitempty"`
	Session *acquisition.Snapshot  `json:"session,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// captureClient feeds screen-capture frames into one session and streams the
// session's events back. Frames go through Machine.Submit like any other
// upload, so a frame that arrives while a turn is in flight is ignored.
type captureClient struct {
	conn    *websocket.Conn
	machine *acquisition.Machine
	send    chan captureMessage
	done    chan struct{}
	once    sync.Once
	ctx     context.Context
	log     *logging.Logger
}

// handleCapture upgrades to a websocket bound to one session
func (s *Server) handleCapture(c *gin.Context) {
	m, ok := s.machine(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.WithComponent("api").Warn("Failed to upgrade capture connection", "error", err)
		return
	}

	// the request context ends with the handler, the socket outlives it
	ctx, cancel := context.WithCancel(context.Background())
	client := &captureClient{
		conn:    conn,
		machine: m,
		send:    make(chan captureMessage, captureBacklog),
		done:    make(chan struct{}),
		ctx:     ctx,
		log:     logging.SessionContext(m.ID(), string(m.Phase())).WithComponent("capture"),
	}

	var feed <-chan events.Event
	unsubscribe := func() {}
	if s.deps.Bus != nil {
		feed, unsubscribe = s.deps.Bus.SubscribeSession(m.ID(), captureBacklog)
	}

	go client.writePump(feed, func() {
		unsubscribe()
		cancel()
	})
	go client.readPump()

	snap := m.Snapshot()
	client.enqueue(captureMessage{Type: "CONNECTED", Session: &snap})
	client.log.Info("Capture client connected")
}

func (cc *captureClient) close() {
	cc.once.Do(func() { close(cc.done) })
}

func (cc *captureClient) enqueue(msg captureMessage) {
	select {
	case cc.send <- msg:
	case <-cc.done:
	default:
		cc.log.Warn("Capture send buffer full, dropping message", "type", msg.Type)
	}
}

// writePump pumps session events and submit outcomes to the connection
func (cc *captureClient) writePump(feed <-chan events.Event, cleanup func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cleanup()
		cc.conn.Close()
	}()

	for {
		select {
		case msg := <-cc.send:
			if err := cc.write(msg); err != nil {
				cc.log.Debug("Capture write failed", "error", err)
				cc.close()
				return
			}

		case ev, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			if err := cc.write(captureMessage{Type: "EVENT", Event: &ev}); err != nil {
				cc.close()
				return
			}

		case <-ticker.C:
			cc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cc.close()
				return
			}

		case <-cc.done:
			cc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			cc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (cc *captureClient) write(msg captureMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	cc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cc.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump reads frames. Each frame is submitted on its own goroutine so
// the reader keeps draining the socket while a turn is in flight.
func (cc *captureClient) readPump() {
	defer func() {
		cc.close()
		cc.conn.Close()
	}()

	cc.conn.SetReadLimit(maxFrameBytes)
	cc.conn.SetReadDeadline(time.Now().Add(pongWait))
	cc.conn.SetPongHandler(func(string) error {
		cc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := cc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cc.log.Warn("Capture read error", "error", err)
			}
			return
		}
		cc.conn.SetReadDeadline(time.Now().Add(pongWait))

		dataURL, ok := parseFrame(payload)
		if !ok {
			cc.enqueue(captureMessage{Type: "ERROR", Error: "expected a data URL or {\"type\":\"frame\",\"image\":...}"})
			continue
		}
		go cc.submit(dataURL)
	}
}

func (cc *captureClient) submit(dataURL string) {
	outcome, err := cc.machine.Submit(cc.ctx, dataURL)
	msg := captureMessage{Type: "OUTCOME", Outcome: outcome}
	if err != nil {
		msg.Error = err.Error()
	}
	if outcome != acquisition.OutcomeIgnored {
		snap := cc.machine.Snapshot()
		msg.Session = &snap
	}
	cc.enqueue(msg)
}

// parseFrame accepts either a bare data URL or a JSON frame
func parseFrame(payload []byte) (string, bool) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "data:") {
		return text, true
	}
	var frame captureFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", false
	}
	if frame.Type != "" && frame.Type != "frame" {
		return "", false
	}
	if !strings.HasPrefix(frame.Image, "data:") {
		return "", false
	}
	return frame.Image, true
}
