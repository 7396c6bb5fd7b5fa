package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Classroom clients come from arbitrary school networks; origin
	// checking is left to the deployment's reverse proxy.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Observer is invoked for every valid inbound event before it is published,
// e.g. to feed presence tracking.
type Observer func(room string, event types.LiveEvent)

// Handler upgrades /ws requests and attaches each connection to its room on
// the event bus. Inbound frames become publishes; bus deliveries (including
// the connection's own publishes, echo-to-self) are written back out.
//
// Subscriptions live on bus alone, so each connection sees its own frames
// exactly once even when publish is a wider fan-out that includes bus.
type Handler struct {
	bus     interfaces.EventBus
	publish interfaces.EventBus
	observe Observer
	log     *zap.Logger
}

// NewHandler creates a websocket handler. Connections subscribe on bus;
// inbound frames are published through publish, which must cover bus and may
// additionally reach other transports observing the same rooms. observe may
// be nil.
func NewHandler(bus, publish interfaces.EventBus, observe Observer, log *zap.Logger) *Handler {
	return &Handler{bus: bus, publish: publish, observe: observe, log: log}
}

// HandleWebSocket serves GET /ws?room=CODE:alias.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if _, _, ok := types.SplitRoomID(room); !ok {
		http.Error(w, "Invalid or missing room parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, room)

	unsubscribe := h.bus.Subscribe(room, func(event types.LiveEvent) {
		if err := wsConn.WriteJSON(event); err != nil {
			h.log.Debug("websocket delivery failed",
				zap.String("room", room), zap.Error(err))
		}
	})

	h.log.Info("websocket attached", zap.String("room", room))

	go h.readLoop(wsConn, unsubscribe)
}

// readLoop pumps inbound frames into the bus until the connection dies,
// then unsubscribes and closes. Unsubscribing tears down the room channel
// when this was the last handler.
func (h *Handler) readLoop(conn *Connection, unsubscribe func()) {
	defer func() {
		unsubscribe()
		_ = conn.Close()
		h.log.Info("websocket detached", zap.String("room", conn.Room()))
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error",
					zap.String("room", conn.Room()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event types.LiveEvent
		if err := json.Unmarshal(data, &event); err != nil {
			h.log.Debug("discarding malformed frame",
				zap.String("room", conn.Room()), zap.Error(err))
			continue
		}
		if err := event.Validate(); err != nil {
			h.log.Debug("discarding invalid event",
				zap.String("room", conn.Room()), zap.Error(err))
			continue
		}

		if h.observe != nil {
			h.observe(conn.Room(), event)
		}
		h.publish.Publish(conn.Room(), event)
	}
}
