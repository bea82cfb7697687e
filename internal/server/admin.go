package server

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
)

// Stats is the /stats document.
type Stats struct {
	Connections   int   `json:"connections"`
	ActiveMatches int   `json:"active_matches"`
	ReadyPlayers  int   `json:"ready_players"`
	Rooms         int   `json:"rooms"`
	UptimeSec     int64 `json:"uptime_sec"`
}

// Snapshot reads the counters under the hub lock.
func (s *Server) Snapshot() Stats {
	st := Stats{Connections: s.ConnCount()}
	s.hub.Lock()
	st.ActiveMatches = s.dispatcher.Engine.ActiveCount()
	st.ReadyPlayers = len(s.dispatcher.Lobby.ReadyIDs())
	st.Rooms = len(s.dispatcher.Lobby.Rooms())
	s.hub.Unlock()
	return st
}

func (s *Server) adminHandler() fasthttp.RequestHandler {
	started := s.clock.Now()
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(s.metrics.Handler())
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/healthz":
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString("ok")
		case "/stats":
			st := s.Snapshot()
			st.UptimeSec = int64(s.clock.Since(started) / time.Second)
			b, err := json.Marshal(st)
			if err != nil {
				ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
				return
			}
			ctx.SetContentType("application/json")
			ctx.SetBody(b)
		case "/metrics":
			s.metrics.SetConnections(s.ConnCount())
			metricsHandler(ctx)
		default:
			ctx.Error("not found", fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) startAdmin(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	s.admin = &fasthttp.Server{
		Handler:      s.adminHandler(),
		Name:         "xiangqi-admin",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	obslog.L().Info("admin_listen", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.admin.Serve(ln); err != nil {
			obslog.L().Error("admin_serve", zap.Error(err))
		}
	}()
	return nil
}
