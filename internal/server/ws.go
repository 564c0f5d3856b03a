package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/voice-session-service/internal/config"
	"github.com/skypro1111/voice-session-service/internal/media"
	"github.com/skypro1111/voice-session-service/internal/metrics"
	"github.com/skypro1111/voice-session-service/internal/session"
)

// preStartFrameLimit caps the frames held for a connection that has not yet
// delivered its start message
const preStartFrameLimit = 256

// WSServer accepts media channel websocket connections and feeds them into
// the session manager. One connection carries one call.
type WSServer struct {
	config   *config.Config
	manager  *session.Manager
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server

	mu                sync.Mutex
	connectionsTotal  uint64
	connectionsActive int
	rejected          uint64
}

// WSStats represents websocket server statistics for monitoring
type WSStats struct {
	ConnectionsTotal  uint64 `json:"connections_total"`
	ConnectionsActive int    `json:"connections_active"`
	Rejected          uint64 `json:"rejected"`
}

// NewWSServer creates the media websocket server
func NewWSServer(cfg *config.Config, manager *session.Manager, m *metrics.Metrics, logger *slog.Logger) *WSServer {
	return &WSServer{
		config:  cfg,
		manager: manager,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media gateway is the only expected peer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins accepting connections. Blocks until the server stops.
func (s *WSServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Server.MediaPath, s.handleMedia)

	addr := fmt.Sprintf("%s:%d", s.config.Server.BindAddress, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Media websocket server listening",
		slog.String("address", addr),
		slog.String("path", s.config.Server.MediaPath),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("media server failed: %w", err)
	}

	return nil
}

// Stop shuts the listener down. Live sessions are ended by the manager.
func (s *WSServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetStatistics returns current server statistics
func (s *WSServer) GetStatistics() WSStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return WSStats{
		ConnectionsTotal:  s.connectionsTotal,
		ConnectionsActive: s.connectionsActive,
		Rejected:          s.rejected,
	}
}

// handleMedia upgrades one media channel connection and serves it until the
// call ends or the peer goes away
func (s *WSServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	if s.manager.GetStats().ActiveSessions >= s.config.Server.MaxConcurrentSessions {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()

		s.logger.Warn("Rejecting media connection, session limit reached",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("limit", s.config.Server.MaxConcurrentSessions),
		)
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.connectionsTotal++
	s.connectionsActive++
	s.mu.Unlock()

	s.logger.Info("Media connection accepted",
		slog.String("remote_addr", r.RemoteAddr),
	)

	s.serveConn(conn)

	s.mu.Lock()
	s.connectionsActive--
	s.mu.Unlock()
}

// serveConn runs the read loop for one media connection
func (s *WSServer) serveConn(conn *websocket.Conn) {
	conn.SetReadLimit(s.config.Server.ReadLimit)

	ch := media.NewChannel(conn)

	var sess *session.Session
	var preStart [][]byte

	defer func() {
		ch.MarkClosed()
		if sess != nil {
			sess.Stop()
		}
		ch.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if sess != nil {
				s.logger.Info("Media connection closed by peer",
					slog.String("call_id", sess.CallID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		msg, err := media.ParseMessage(data)
		if err != nil {
			s.metrics.RecordMediaParseError()
			s.logger.Debug("Unparseable media message",
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.Event {
		case media.EventStart:
			if sess != nil {
				s.logger.Warn("Duplicate start message on connection",
					slog.String("call_id", sess.CallID),
				)
				continue
			}

			ch.SetStreamSid(msg.Start.StreamSid)

			sess, err = s.manager.StartSession(msg.Start.CallSid, msg.Start.StreamSid, msg.Start.CustomParameters, ch)
			if err != nil {
				s.logger.Error("Failed to start session",
					slog.String("call_id", msg.Start.CallSid),
					slog.String("error", err.Error()),
				)
				return
			}

			// Replay any audio that raced ahead of the start message.
			for _, frame := range preStart {
				sess.PostMedia(frame)
			}
			preStart = nil

		case media.EventMedia:
			frame, err := msg.Media.Decode()
			if err != nil {
				s.metrics.RecordMediaParseError()
				continue
			}

			if sess == nil {
				if len(preStart) < preStartFrameLimit {
					preStart = append(preStart, frame)
				} else {
					s.metrics.RecordFrameDropped()
				}
				continue
			}

			sess.PostMedia(frame)

		case media.EventStop:
			if sess != nil {
				s.logger.Info("Call stopped by media gateway",
					slog.String("call_id", sess.CallID),
				)
				sess.Stop()
			}
			return

		case media.EventMark:
			// Playback acknowledgements need no handling yet.
		}
	}
}
