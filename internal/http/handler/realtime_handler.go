package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/realtime"
)

// RealtimeDeps groups dependencies for the realtime subscription endpoint.
type RealtimeDeps struct {
	Logger *zap.Logger
	Hub    *realtime.Hub
}

// RealtimeHandler upgrades dashboard connections to websockets and bridges
// them onto the fan-out hub.
type RealtimeHandler struct {
	logger *zap.Logger
	hub    *realtime.Hub
}

// NewRealtimeHandler creates the handler.
func NewRealtimeHandler(deps RealtimeDeps) *RealtimeHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{logger: logger, hub: deps.Hub}
}

// Register wires the websocket route onto the provided router.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/api/realtime", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/api/realtime", websocket.New(h.serve))
}

// subscribeCommand is the client-to-server control message.
type subscribeCommand struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms"`
}

func (h *RealtimeHandler) serve(conn *websocket.Conn) {
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	// Single-writer pump; it exits when the hub closes the channel, which
	// also happens when the subscriber is dropped for not keeping up.
	go func() {
		for env := range sub.C() {
			if err := conn.WriteJSON(env); err != nil {
				break
			}
		}
		_ = conn.Close()
	}()

	for {
		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "join":
			if err := h.hub.Join(sub, cmd.Rooms); err != nil {
				h.logger.Warn("rejected realtime join",
					zap.Strings("rooms", cmd.Rooms), zap.Error(err))
			}
		case "leave":
			h.hub.Leave(sub, cmd.Rooms)
		default:
			h.logger.Debug("ignoring unknown realtime action",
				zap.String("action", cmd.Action))
		}
	}
}
