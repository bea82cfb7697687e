package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/xiangqi-server/internal/obslog"
)

// ServeWebSocket upgrades the request and runs the socket through the same
// pipeline as a TCP connection. Each text frame carries protocol lines.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode:    websocket.CompressionNoContextTakeover,
		InsecureSkipVerify: true,
	})
	if err != nil {
		obslog.L().Debug("ws_accept", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(int64(s.cfg.MaxMessageSize))
	s.wg.Add(1)
	defer s.wg.Done()
	s.ServeConn(websocket.NetConn(s.ctx, ws, websocket.MessageText))
}

func (s *Server) startWebSocket(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ws listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.ServeWebSocket)
	s.wsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	obslog.L().Info("ws_listen", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.wsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("ws_serve", zap.Error(err))
		}
	}()
	return nil
}
