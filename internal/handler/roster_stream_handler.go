package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mergington-api/internal/dto"
	"github.com/noah-isme/mergington-api/internal/observability"
	"github.com/noah-isme/mergington-api/internal/service"
)

const (
	rosterStreamPingInterval = 30 * time.Second
	rosterStreamWriteTimeout = 5 * time.Second
)

// RosterStreamHandler pushes roster changes to websocket clients.
type RosterStreamHandler struct {
	events       service.RosterEvents
	logger       zerolog.Logger
	pingInterval time.Duration
}

// NewRosterStreamHandler constructs the roster stream handler.
func NewRosterStreamHandler(events service.RosterEvents, logger zerolog.Logger) *RosterStreamHandler {
	return &RosterStreamHandler{
		events:       events,
		logger:       logger.With().Str("component", "roster_stream_handler").Logger(),
		pingInterval: rosterStreamPingInterval,
	}
}

// Register binds the websocket route under the provided router group. The upgrade guard sits on
// the GET route itself; a prefix match would also catch activities whose names start with "stream".
func (h *RosterStreamHandler) Register(router fiber.Router) {
	router.Get("/stream", requireUpgrade, websocket.New(h.serve))
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *RosterStreamHandler) serve(conn *websocket.Conn) {
	events, cancel := h.events.Subscribe()
	defer cancel()
	defer func() { _ = conn.Close() }()

	gauge := observability.RosterStreamConnections()
	gauge.Inc()
	defer gauge.Dec()

	if err := h.write(conn, dto.RosterEvent{Type: dto.RosterEventSubscribed, OccurredAt: time.Now().UTC()}); err != nil {
		h.logger.Debug().Err(err).Msg("failed to greet roster stream client")
		return
	}

	// Clients never send data; reading only surfaces the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, event); err != nil {
				h.logger.Debug().Err(err).Msg("roster stream write failed")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(rosterStreamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				h.logger.Debug().Err(err).Msg("roster stream ping failed")
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *RosterStreamHandler) write(conn *websocket.Conn, event dto.RosterEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(rosterStreamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}
