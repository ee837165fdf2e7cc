// Package derivwstest provides a scriptable in-process platform WebSocket server for tests.
package derivwstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Handler is invoked for every request a client sends on a session.
type Handler func(s *Session, req map[string]any)

// Session is one accepted client connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex

	reqMu    sync.Mutex
	requests []map[string]any
}

// Send writes v as a JSON text frame.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Reply answers req with payload under msgType, echoing req_id.
func (s *Session) Reply(req map[string]any, msgType string, payload any) error {
	msg := map[string]any{
		"msg_type": msgType,
		msgType:    payload,
		"echo_req": req,
	}
	if id, ok := req["req_id"]; ok {
		msg["req_id"] = id
	}
	return s.Send(msg)
}

// ReplyError answers req with an error payload.
func (s *Session) ReplyError(req map[string]any, msgType, code, message string) error {
	msg := map[string]any{
		"msg_type": msgType,
		"error":    map[string]any{"code": code, "message": message},
		"echo_req": req,
	}
	if id, ok := req["req_id"]; ok {
		msg["req_id"] = id
	}
	return s.Send(msg)
}

// Push sends an unsolicited stream message.
func (s *Session) Push(msgType string, payload any, subscriptionID string) error {
	msg := map[string]any{"msg_type": msgType, msgType: payload}
	if subscriptionID != "" {
		msg["subscription"] = map[string]any{"id": subscriptionID}
	}
	return s.Send(msg)
}

// Requests returns a copy of every request received on this session.
func (s *Session) Requests() []map[string]any {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	out := make([]map[string]any, len(s.requests))
	copy(out, s.requests)
	return out
}

// Close drops the connection from the server side.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Server accepts platform connections and routes their requests to a Handler.
type Server struct {
	*httptest.Server
	// URL is the ws:// address of the server.
	URL string

	handler  Handler
	mu       sync.Mutex
	sessions []*Session
	accepted chan *Session
}

// NewServer starts a server that calls h for each inbound request.
func NewServer(h Handler) *Server {
	srv := &Server{handler: h, accepted: make(chan *Session, 64)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session := &Session{conn: conn}
		srv.mu.Lock()
		srv.sessions = append(srv.sessions, session)
		srv.mu.Unlock()
		select {
		case srv.accepted <- session:
		default:
		}
		srv.serve(session)
	}))
	srv.URL = "ws" + strings.TrimPrefix(srv.Server.URL, "http")
	return srv
}

// Accepted yields sessions as they connect.
func (srv *Server) Accepted() <-chan *Session { return srv.accepted }

// Sessions returns the sessions accepted so far.
func (srv *Server) Sessions() []*Session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*Session, len(srv.sessions))
	copy(out, srv.sessions)
	return out
}

// Close shuts the server and every session down.
func (srv *Server) Close() {
	for _, s := range srv.Sessions() {
		_ = s.Close()
	}
	srv.Server.Close()
}

func (srv *Server) serve(s *Session) {
	defer s.conn.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.reqMu.Lock()
		s.requests = append(s.requests, req)
		s.reqMu.Unlock()
		if srv.handler != nil {
			srv.handler(s, req)
		}
	}
}
