// Package gateway exposes the session engine over a WebSocket endpoint.
// It owns transport concerns only: upgrades, event decoding, and the
// per-connection write pump. All game decisions live in the engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quizduel/server/internal/config"
	"github.com/quizduel/server/internal/game/engine"
	"github.com/quizduel/server/internal/game/registry"
)

const writeTimeout = 10 * time.Second

// clientEvent is the JSON envelope for inbound player events.
type clientEvent struct {
	// Event names the action: "answer" or "change_difficulty".
	Event string `json:"event"`
	// Answer is the submitted option text (answer events).
	Answer string `json:"answer,omitempty"`
	// Difficulty is the requested tier name (change_difficulty events).
	Difficulty string `json:"difficulty,omitempty"`
}

// Gateway serves the /ws endpoint and bridges sockets to the engine.
// It implements the lifecycle Service interface.
type Gateway struct {
	engine          *engine.Engine
	logger          *zap.Logger
	srv             *http.Server
	upgrader        websocket.Upgrader
	sendBuffer      int
	shutdownTimeout time.Duration
}

// New creates a Gateway listening on the configured address.
//
// Precondition: eng and logger must be non-nil.
func New(cfg config.ServerConfig, game config.GameConfig, eng *engine.Engine, logger *zap.Logger) *Gateway {
	g := &Gateway{
		engine: eng,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Origin policy is owned by the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBuffer:      game.SendBuffer,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	g.srv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: g.Handler(),
	}
	return g
}

// Handler returns the HTTP handler serving the gateway routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start runs the HTTP server and blocks until Stop is called.
//
// Postcondition: Returns nil on graceful shutdown, or the listen error.
func (g *Gateway) Start() error {
	g.logger.Info("gateway listening", zap.String("addr", g.srv.Addr))
	if err := g.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (g *Gateway) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()
	if err := g.srv.Shutdown(ctx); err != nil {
		g.logger.Warn("gateway shutdown", zap.Error(err))
	}
}

// handleWS upgrades the request, registers the player with the engine,
// and pumps events in both directions until the socket dies.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		playerID = uuid.NewString()
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := registry.NewConn(playerID, g.sendBuffer)
	go g.writePump(ws, conn)

	if err := g.engine.Connect(r.Context(), playerID, conn); err != nil {
		g.logger.Warn("rejecting connection",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		// The close frame must go out before the write pump tears the
		// socket down.
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection rejected")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		_ = conn.Close()
		_ = ws.Close()
		return
	}

	g.readPump(r.Context(), ws, playerID)
	g.engine.Disconnect(playerID)
}

// writePump drains the registry handle to the socket. It exits when the
// handle is closed by the engine or the socket write fails.
func (g *Gateway) writePump(ws *websocket.Conn, conn *registry.Conn) {
	for data := range conn.Events() {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			g.logger.Debug("socket write failed",
				zap.String("player_id", conn.ID()),
				zap.Error(err),
			)
			break
		}
	}
	_ = ws.Close()
}

// readPump decodes inbound client events and dispatches them to the
// engine until the socket closes.
func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, playerID string) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("socket read ended",
					zap.String("player_id", playerID),
					zap.Error(err),
				)
			}
			return
		}

		var evt clientEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			g.logger.Debug("discarding undecodable event",
				zap.String("player_id", playerID),
				zap.Error(err),
			)
			continue
		}

		switch evt.Event {
		case "answer":
			if err := g.engine.SubmitAnswer(ctx, playerID, evt.Answer); err != nil {
				g.logger.Debug("answer handling",
					zap.String("player_id", playerID),
					zap.Error(err),
				)
			}
		case "change_difficulty":
			if err := g.engine.SetDifficulty(ctx, playerID, evt.Difficulty); err != nil {
				g.logger.Debug("difficulty handling",
					zap.String("player_id", playerID),
					zap.Error(err),
				)
			}
		default:
			g.logger.Debug("ignoring unknown event",
				zap.String("player_id", playerID),
				zap.String("event", evt.Event),
			)
		}
	}
}
