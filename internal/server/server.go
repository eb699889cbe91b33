// Package server is the websocket transport front-end for the dispatcher.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sockethub/dispatcher/internal/dispatcher"
)

// Server exposes the /ws endpoint clients connect to.
type Server struct {
	addr       string
	log        zerolog.Logger
	dispatcher *dispatcher.Dispatcher
	router     *chi.Mux
	wsUpgrader websocket.Upgrader
}

// New creates the server and its router.
func New(addr string, d *dispatcher.Dispatcher, log zerolog.Logger) *Server {
	s := &Server{
		addr:       addr,
		log:        log.With().Str("component", "server").Logger(),
		dispatcher: d,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher.InShutdown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWebSocket upgrades the connection and runs its read pump. Inbound
// frames feed the dispatcher's per-connection pipeline; outbound frames
// arrive through the egress pump on the wsConn adapter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsc := newWSConn(conn)
	c := s.dispatcher.Connect(wsc)

	defer func() {
		c.Close()
		_ = wsc.Close()
	}()

	wsc.configureRead()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Int64("sid", c.SessionID()).Msg("read error")
			}
			return
		}
		wsc.extendRead()
		c.HandleMessage(data, msgType == websocket.BinaryMessage)
	}
}

// Run starts the server.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.addr).Msg("starting dispatcher server")
	return http.ListenAndServe(s.addr, s.router)
}

// Router returns the HTTP router (for testing).
func (s *Server) Router() http.Handler {
	return s.router
}
