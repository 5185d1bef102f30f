// Package mcpserver hosts the MCP tool server over a single loopback HTTP
// endpoint. One MCP session per agent; the session id carries the agent
// identity (<agent>-<8 hex>), so tool handlers recover the caller without a
// separate authentication mechanism. The declared identity is trusted because
// the listener is loopback-only.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

const sessionHeader = "Mcp-Session-Id"

// Option configures a Server.
type Option func(*Server)

// WithOnConnect sets a hook invoked after a session is initialized.
func WithOnConnect(fn func(agent, sessionID string)) Option {
	return func(s *Server) { s.onConnect = fn }
}

// WithOnDisconnect sets a hook invoked when a session closes.
func WithOnDisconnect(fn func(agent, sessionID string)) Option {
	return func(s *Server) { s.onDisconnect = fn }
}

// WithValidAgent restricts session creation to agents accepted by fn.
func WithValidAgent(fn func(agent string) bool) Option {
	return func(s *Server) { s.validAgent = fn }
}

// Server is the HTTP transport in front of an mcp-go MCPServer.
type Server struct {
	mcp      *server.MCPServer
	logger   *log.Logger
	registry *Registry

	onConnect    func(agent, sessionID string)
	onDisconnect func(agent, sessionID string)
	validAgent   func(agent string) bool

	mux        *http.ServeMux
	httpServer *http.Server
	ln         net.Listener
}

// New wraps mcpServer with the session-multiplexed HTTP transport.
func New(mcpServer *server.MCPServer, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		mcp:      mcpServer,
		logger:   logger,
		registry: NewRegistry(),
		mux:      http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.mux.HandleFunc("/mcp", s.handleMCP)
	return s
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handle mounts an additional handler (health, status API) on the server mux.
// Must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and serves
// in the background.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mcpserver: listen: %w", err)
	}
	s.ln = ln
	s.httpServer = &http.Server{Handler: s.mux}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("MCP HTTP server error: %v", err)
		}
	}()
	s.logger.Printf("MCP server on %s", s.URL())
	return nil
}

// URL returns the MCP endpoint URL.
func (s *Server) URL() string {
	if s.ln == nil {
		return ""
	}
	return fmt.Sprintf("http://%s/mcp", s.ln.Addr().String())
}

// AgentURL returns the per-agent connect URL with the declared identity in
// the query string.
func (s *Server) AgentURL(agent string) string {
	if s.ln == nil {
		return ""
	}
	return fmt.Sprintf("http://%s/mcp?agent=%s", s.ln.Addr().String(), agent)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleClose(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	var session *agentSession
	if sessionID == "" {
		// Only an initialize request may open a session.
		if !isInitialize(body) {
			writeError(w, http.StatusBadRequest, "missing "+sessionHeader+" header")
			return
		}
		agent := r.URL.Query().Get("agent")
		if agent == "" {
			writeError(w, http.StatusBadRequest, "missing agent query parameter")
			return
		}
		if s.validAgent != nil && !s.validAgent(agent) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown agent %q", agent))
			return
		}
		session = newAgentSession(agent)
		if err := s.mcp.RegisterSession(r.Context(), session); err != nil {
			writeError(w, http.StatusInternalServerError, "register session: "+err.Error())
			return
		}
		if displaced := s.registry.add(session); displaced != nil {
			s.mcp.UnregisterSession(r.Context(), displaced.id)
			s.logger.Printf("Session %s displaced by reconnect", displaced.id)
		}
		s.logger.Printf("Session %s opened (agent=%s)", session.id, session.agent)
		if s.onConnect != nil {
			s.onConnect(session.agent, session.id)
		}
	} else {
		session = s.registry.get(sessionID)
		if session == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", sessionID))
			return
		}
		s.registry.Touch(sessionID)
	}

	ctx := s.mcp.WithContext(r.Context(), session)
	response := s.mcp.HandleMessage(ctx, body)

	w.Header().Set(sessionHeader, session.id)
	if response == nil {
		// Notification: nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Printf("Session %s: write response: %v", session.id, err)
	}
}

// handleStream serves the SSE notification stream for a session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}
	session := s.registry.get(sessionID)
	if session == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", sessionID))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-session.notifications:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				s.logger.Printf("Session %s: marshal notification: %v", sessionID, err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}
	session := s.registry.remove(sessionID)
	if session == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", sessionID))
		return
	}
	s.mcp.UnregisterSession(r.Context(), sessionID)
	s.logger.Printf("Session %s closed (agent=%s)", sessionID, session.agent)
	if s.onDisconnect != nil {
		s.onDisconnect(session.agent, sessionID)
	}
	w.WriteHeader(http.StatusOK)
}

// isInitialize reports whether the JSON-RPC body is an initialize request.
func isInitialize(body []byte) bool {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return strings.EqualFold(probe.Method, "initialize")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
