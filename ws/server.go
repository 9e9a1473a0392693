package ws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/tcriess/roomchat/config"
)

// Server upgrades HTTP requests to websocket connections and runs one client per connection.
type Server struct {
	hub            *Hub
	coordinator    Coordinator
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

func NewServer(hub *Hub, coordinator Coordinator, cfg *config.Config) *Server {
	allowed := cfg.WebsocketConfig.AllowedOrigins
	return &Server{
		hub:            hub,
		coordinator:    coordinator,
		maxMessageSize: cfg.WebsocketConfig.MaxMessageSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, allowed) },
		},
	}
}

// originAllowed accepts everything for an empty list or "*". Requests without Origin header are not from a
// browser and always accepted.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP handles one websocket connection for its whole lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.logger.Error("websocket upgrade error", "error", err)
		return
	}

	c := NewClient(s.hub, s.coordinator, conn, s.maxMessageSize)
	s.hub.Register(c)
	s.hub.logger.Info("client connected", "connection", c.Id, "remote", r.RemoteAddr)

	c.Add(1)
	go c.WriteLoop()
	c.ReadLoop()

	if err := s.coordinator.Disconnect(c.Id); err != nil {
		s.hub.logger.Error("could not disconnect client", "connection", c.Id, "error", err)
	}
	s.hub.Unregister(c.Id)
	c.Wait()
	s.hub.logger.Info("client disconnected", "connection", c.Id)
}
