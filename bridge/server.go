package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhubert/codex-bridge/codex"
	"github.com/zhubert/codex-bridge/errs"
	"github.com/zhubert/codex-bridge/logger"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	// EventCodex tags agent events pushed to WebSocket clients.
	EventCodex = "codex-event"

	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	maxRequestBytes = 64 << 20
)

// InvokeRequest is the body of POST /invoke.
type InvokeRequest struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Envelope is the outcome of one command. On error Payload is the display
// string and Kind names the failure class.
type Envelope struct {
	Status  string `json:"status"`
	Payload any    `json:"payload"`
	Kind    string `json:"kind,omitempty"`
}

// wsRequest is one command sent over the WebSocket. The id is echoed back
// verbatim, so clients may use numbers or strings.
type wsRequest struct {
	ID   json.RawMessage `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wsResponse struct {
	ID      json.RawMessage `json:"id"`
	Payload Envelope        `json:"payload"`
}

type wsEvent struct {
	Event   string      `json:"event"`
	Payload codex.Event `json:"payload"`
}

// Server serves the dispatcher over HTTP and WebSocket and fans agent events
// out to every connected WebSocket client.
type Server struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	log        *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewServer creates a server for d.
func NewServer(d *Dispatcher) *Server {
	s := &Server{
		dispatcher: d,
		log:        logger.WithComponent("server"),
		clients:    make(map[*wsClient]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: localOrigin}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Broadcast pushes an agent event to every WebSocket client. It is used as
// the codex OnEvent callback.
func (s *Server) Broadcast(ev codex.Event) {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.write(wsEvent{Event: EventCodex, Payload: ev}); err != nil {
			s.log.Debug("dropping event for client", "error", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	// Requiring JSON forces a CORS preflight, which is never answered, so
	// browsers on other origins cannot reach this endpoint.
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope(errs.InvalidInput("Content-Type must be application/json")))
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope(errs.InvalidInput("invalid request body: "+err.Error())))
		return
	}

	result, err := s.dispatcher.Invoke(r.Context(), req.Command, req.Args)
	if err != nil {
		writeJSON(w, statusFor(err), errorEnvelope(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess, Payload: result})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	client := &wsClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("websocket client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		conn.Close()
		s.log.Debug("websocket client disconnected", "remote", r.RemoteAddr)
	}()

	ctx := r.Context()
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended", "error", err)
			}
			return
		}

		// Commands run concurrently so a slow diff does not hold up the
		// rest of the connection.
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			resp := wsResponse{ID: req.ID}
			if result, err := s.dispatcher.Invoke(ctx, req.Cmd, req.Args); err != nil {
				resp.Payload = errorEnvelope(err)
			} else {
				resp.Payload = Envelope{Status: statusSuccess, Payload: result}
			}
			if err := client.write(resp); err != nil {
				s.log.Debug("websocket write failed", "cmd", req.Cmd, "error", err)
			}
		}()
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
	}
}

// wsClient serializes writes; gorilla connections allow one writer at a time.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	c.conn.Close()
}

// localOrigin accepts non-browser clients and pages served from loopback.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// errorEnvelope renders err for a client.
func errorEnvelope(err error) Envelope {
	kind := string(errs.KindOf(err))
	if kind == "" {
		kind = "INTERNAL"
	}
	return Envelope{Status: statusError, Payload: err.Error(), Kind: kind}
}

// statusFor maps a failure to an HTTP status. Kinds are matched anywhere in
// the chain, so bad input wrapped by a lower layer still answers 400.
func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.KindSessionNotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.KindInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
