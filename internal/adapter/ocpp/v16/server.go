// Package v16 is the OCPP 1.6 JSON (WebSocket) transport. It owns the frame
// format and connection registry; message semantics live in the services.
package v16

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/observability"
	"github.com/gridwise/csms/pkg/config"
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"ocpp1.6"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// OCPP-J frame type ids.
const (
	CallMessage       = 2
	CallResultMessage = 3
	CallErrorMessage  = 4
)

const callTimeout = 30 * time.Second

// client is one connected charge point.
type client struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	tenantID    string
	chargeBoxID string

	pendingMu sync.Mutex
	pending   map[string]chan callOutcome
}

type callOutcome struct {
	payload json.RawMessage
	errCode string
	errDesc string
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server accepts OCPP 1.6 WebSocket connections on
// /ocpp/1.6/{tenant}/{chargeBoxIdentity}. The registration token for a first
// boot rides in the token query parameter.
type Server struct {
	handlers *Handlers
	cfg      config.OCPPConfig
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
}

func NewServer(handlers *Handlers, cfg config.OCPPConfig, log *zap.Logger) *Server {
	return &Server{
		handlers: handlers,
		cfg:      cfg,
		log:      log.Named("ocppj"),
		clients:  make(map[string]*client),
	}
}

func clientKey(tenantID, chargeBoxID string) string {
	return tenantID + "/" + chargeBoxID
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/1.6/", s.handleWebSocket)

	addr := fmt.Sprintf(":%d", s.cfg.JSONPort)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.log.Info("starting OCPP 1.6 WebSocket server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for key, c := range s.clients {
		c.conn.Close()
		delete(s.clients, key)
	}
	s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/ocpp/1.6/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "expected /ocpp/1.6/{tenant}/{chargeBoxIdentity}", http.StatusBadRequest)
		return
	}
	tenantID, chargeBoxID := parts[0], parts[1]
	token := r.URL.Query().Get("token")
	clientIP := remoteIP(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:        conn,
		tenantID:    tenantID,
		chargeBoxID: chargeBoxID,
		pending:     make(map[string]chan callOutcome),
	}
	key := clientKey(tenantID, chargeBoxID)
	s.mu.Lock()
	if old, ok := s.clients[key]; ok {
		// The station reconnected before the old socket died.
		old.conn.Close()
	}
	s.clients[key] = c
	s.mu.Unlock()

	observability.StationConnected()
	s.log.Info("charge point connected",
		zap.String("tenant", tenantID),
		zap.String("charge_box_id", chargeBoxID),
		zap.String("ip", clientIP))

	defer func() {
		observability.StationDisconnected()
		conn.Close()
		s.mu.Lock()
		if s.clients[key] == c {
			delete(s.clients, key)
		}
		s.mu.Unlock()
		s.log.Info("charge point disconnected",
			zap.String("tenant", tenantID),
			zap.String("charge_box_id", chargeBoxID))
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error",
					zap.String("charge_box_id", chargeBoxID),
					zap.Error(err))
			}
			return
		}

		response, err := s.processMessage(c, token, clientIP, message)
		if err != nil {
			s.log.Error("message processing failed",
				zap.String("charge_box_id", chargeBoxID),
				zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.write(response); err != nil {
				s.log.Error("response write failed",
					zap.String("charge_box_id", chargeBoxID),
					zap.Error(err))
				return
			}
		}
	}
}

// processMessage parses one OCPP-J frame. Calls are dispatched to the
// handlers; results and errors are routed to whoever is waiting on them.
func (s *Server) processMessage(c *client, token, clientIP string, raw []byte) ([]byte, error) {
	var msg []json.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid OCPP frame: %w", err)
	}
	if len(msg) < 3 {
		return nil, fmt.Errorf("OCPP frame too short")
	}

	var msgType int
	if err := json.Unmarshal(msg[0], &msgType); err != nil {
		return nil, fmt.Errorf("invalid message type: %w", err)
	}
	var uniqueID string
	if err := json.Unmarshal(msg[1], &uniqueID); err != nil {
		return nil, fmt.Errorf("invalid unique id: %w", err)
	}

	switch msgType {
	case CallMessage:
		if len(msg) < 4 {
			return nil, fmt.Errorf("call frame without payload")
		}
		var action string
		if err := json.Unmarshal(msg[2], &action); err != nil {
			return nil, fmt.Errorf("invalid action: %w", err)
		}
		return s.dispatchCall(c, token, clientIP, uniqueID, action, msg[3])
	case CallResultMessage:
		c.resolvePending(uniqueID, callOutcome{payload: msg[2]})
		return nil, nil
	case CallErrorMessage:
		outcome := callOutcome{errCode: "GenericError"}
		json.Unmarshal(msg[2], &outcome.errCode)
		if len(msg) > 3 {
			json.Unmarshal(msg[3], &outcome.errDesc)
		}
		c.resolvePending(uniqueID, outcome)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", msgType)
	}
}

func (s *Server) dispatchCall(c *client, token, clientIP, uniqueID, action string, payload json.RawMessage) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.perCallTimeout())
	defer cancel()

	started := time.Now()
	header := requestHeader(c.tenantID, c.chargeBoxID, clientIP, token)
	responsePayload, err := s.handlers.Handle(ctx, header, action, payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveMessage("json", action, outcome, time.Since(started))
	if err != nil {
		code := errorCode(err)
		s.log.Warn("call rejected",
			zap.String("charge_box_id", c.chargeBoxID),
			zap.String("action", action),
			zap.String("code", code),
			zap.Error(err))
		return json.Marshal([]interface{}{CallErrorMessage, uniqueID, code, err.Error(), map[string]string{}})
	}
	return json.Marshal([]interface{}{CallResultMessage, uniqueID, responsePayload})
}

func (s *Server) perCallTimeout() time.Duration {
	if s.cfg.PerCallTimeout > 0 {
		return s.cfg.PerCallTimeout
	}
	return callTimeout
}

func (c *client) resolvePending(uniqueID string, outcome callOutcome) {
	c.pendingMu.Lock()
	ch, ok := c.pending[uniqueID]
	if ok {
		delete(c.pending, uniqueID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- outcome
	}
}

// call sends a central-system-initiated Call and waits for the station's
// answer.
func (s *Server) call(ctx context.Context, tenantID, chargeBoxID, action string, payload interface{}, out interface{}) error {
	s.mu.RLock()
	c, ok := s.clients[clientKey(tenantID, chargeBoxID)]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("station %s/%s: %w", tenantID, chargeBoxID, domain.ErrStationNotRegistered)
	}

	uniqueID := uuid.NewString()
	frame, err := json.Marshal([]interface{}{CallMessage, uniqueID, action, payload})
	if err != nil {
		return fmt.Errorf("marshal %s call: %w", action, err)
	}

	ch := make(chan callOutcome, 1)
	c.pendingMu.Lock()
	c.pending[uniqueID] = ch
	c.pendingMu.Unlock()
	defer c.resolveAbandoned(uniqueID)

	if err := c.write(frame); err != nil {
		return fmt.Errorf("send %s call: %w", action, err)
	}

	select {
	case outcome := <-ch:
		if outcome.errCode != "" {
			return fmt.Errorf("station refused %s: %s (%s)", action, outcome.errCode, outcome.errDesc)
		}
		if out != nil {
			if err := json.Unmarshal(outcome.payload, out); err != nil {
				return fmt.Errorf("decode %s response: %w", action, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s call: %w", action, ctx.Err())
	}
}

func (c *client) resolveAbandoned(uniqueID string) {
	c.pendingMu.Lock()
	delete(c.pending, uniqueID)
	c.pendingMu.Unlock()
}

type changeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type changeConfigurationResponse struct {
	Status string `json:"status"`
}

// ChangeConfiguration implements the station commander for JSON stations.
func (s *Server) ChangeConfiguration(ctx context.Context, tenantID, chargeBoxID, key, value string) (bool, error) {
	var resp changeConfigurationResponse
	err := s.call(ctx, tenantID, chargeBoxID, "ChangeConfiguration",
		changeConfigurationRequest{Key: key, Value: value}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Status == "Accepted", nil
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
