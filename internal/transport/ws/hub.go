// Package ws is the websocket transport for the three worker
// connection classes: Load clients, ResourceMonitor clients and
// ClientManager daemons. Every connection's read loop runs on its own
// goroutine; writes (DispatchStart, DispatchStop, StartClients,
// StopClients) are made on the caller's goroutine, serialized per
// connection by writeMu. Nothing in internal/scheduler or
// internal/clientmanager touches a websocket directly.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/clientmanager"
	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// conn wraps one accepted websocket connection. writeMu serializes
// writes, since gorilla/websocket forbids concurrent writers on the
// same connection.
type conn struct {
	socket   *websocket.Conn
	writeMu  sync.Mutex
	clientID string
	kind     models.ClientKind
}

func (c *conn) writeEnvelope(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws: marshal %s payload: %w", msgType, err)
	}
	env := envelope{Type: msgType, Payload: data}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteMessage(websocket.TextMessage, frame)
}

// Hub is the connection table plus the JobDispatcher/clientmanager.Dispatcher
// implementations that send Job and fleet commands over it.
//
// access and reports are wired in after construction through Bind:
// internal/server.Server builds the Hub before the AccessPoints and
// Scheduler it needs to admit connections and deliver reports exist,
// since those in turn need the Hub as their own JobDispatcher and
// clientmanager.Dispatcher. Bind must run before the HTTP listener
// that accepts connections starts.
type Hub struct {
	bindMu  sync.RWMutex
	access  interfaces.AccessPoints
	reports interfaces.ReportSink

	logger arbor.ILogger

	mu    sync.RWMutex
	conns map[string]*conn

	pendingMu sync.Mutex
	pending   map[string]chan ackPayload
}

// NewHub creates an unbound Hub; call Bind before accepting connections.
func NewHub(logger arbor.ILogger) *Hub {
	return &Hub{
		logger:  logger,
		conns:   make(map[string]*conn),
		pending: make(map[string]chan ackPayload),
	}
}

// Bind wires the collaborators Hub needs to admit connections and
// deliver reports. Must be called exactly once, before the HTTP
// listener serving HandleLoadConnect/HandleResourceMonitorConnect/
// HandleClientManagerConnect starts.
func (h *Hub) Bind(access interfaces.AccessPoints, reports interfaces.ReportSink) {
	h.bindMu.Lock()
	defer h.bindMu.Unlock()
	h.access = access
	h.reports = reports
}

func (h *Hub) bound() (interfaces.AccessPoints, interfaces.ReportSink) {
	h.bindMu.RLock()
	defer h.bindMu.RUnlock()
	return h.access, h.reports
}

var _ interfaces.JobDispatcher = (*Hub)(nil)
var _ clientmanager.Dispatcher = (*Hub)(nil)

// HandleConnect upgrades r into a websocket connection and runs its
// read loop until the client disconnects or the connection errors. It
// accepts any client kind; HandleLoadConnect/HandleResourceMonitorConnect/
// HandleClientManagerConnect below each restrict a path to one kind.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "")
}

// HandleLoadConnect accepts only Load client connections.
func (h *Hub) HandleLoadConnect(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.ClientKindLoad)
}

// HandleResourceMonitorConnect accepts only ResourceMonitor connections.
func (h *Hub) HandleResourceMonitorConnect(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.ClientKindResourceMonitor)
}

// HandleClientManagerConnect accepts only ClientManager connections.
func (h *Hub) HandleClientManagerConnect(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.ClientKindClientManager)
}

func (h *Hub) handle(w http.ResponseWriter, r *http.Request, expectedKind models.ClientKind) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("ws: upgrade failed")
		return
	}
	h.serve(socket, expectedKind)
}

func (h *Hub) serve(socket *websocket.Conn, expectedKind models.ClientKind) {
	defer socket.Close()

	c, err := h.handshake(socket, expectedKind)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws: handshake failed")
		return
	}

	h.mu.Lock()
	h.conns[c.clientID] = c
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.clientID).Str("kind", string(c.kind)).Msg("ws: client connected")

	defer func() {
		h.mu.Lock()
		delete(h.conns, c.clientID)
		h.mu.Unlock()

		access, _ := h.bound()
		if err := access.DisconnectClient(c.clientID); err != nil {
			h.logger.Warn().Err(err).Str("client_id", c.clientID).Msg("ws: disconnect cleanup failed")
		}
		h.logger.Info().Str("client_id", c.clientID).Msg("ws: client disconnected")
	}()

	h.readLoop(c)
}

// handshake reads the connection's first frame, which must be a hello
// envelope, and admits it through AccessPoints.ConnectClient.
// expectedKind rejects a hello whose self-reported kind does not match
// the path it connected on; empty accepts any kind.
func (h *Hub) handshake(socket *websocket.Conn, expectedKind models.ClientKind) (*conn, error) {
	_, data, err := socket.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("ws: read hello: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ws: decode hello envelope: %w", err)
	}
	if env.Type != msgHello {
		return nil, fmt.Errorf("ws: expected %q frame, got %q", msgHello, env.Type)
	}

	var hello helloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return nil, fmt.Errorf("ws: decode hello payload: %w", err)
	}
	if expectedKind != "" && models.ClientKind(hello.Kind) != expectedKind {
		return nil, fmt.Errorf("ws: connection on %s path self-reported kind %q", expectedKind, hello.Kind)
	}

	req := interfaces.ConnectRequest{
		ClientID:   hello.ClientID,
		Kind:       hello.Kind,
		Address:    hello.Address,
		MaxClients: hello.MaxClients,
	}
	access, _ := h.bound()
	if err := access.ConnectClient(req); err != nil {
		return nil, err
	}

	return &conn{socket: socket, clientID: hello.ClientID, kind: models.ClientKind(hello.Kind)}, nil
}

func (h *Hub) readLoop(c *conn) {
	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", c.clientID).Msg("ws: read error")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn().Err(err).Str("client_id", c.clientID).Msg("ws: malformed frame")
			continue
		}

		switch env.Type {
		case msgReport:
			h.handleReport(c, env.Payload)
		case msgAck:
			h.handleAck(env.Payload)
		default:
			h.logger.Warn().Str("client_id", c.clientID).Str("type", env.Type).Msg("ws: unexpected frame type")
		}
	}
}

func (h *Hub) handleReport(c *conn, raw json.RawMessage) {
	var p reportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Warn().Err(err).Str("client_id", c.clientID).Msg("ws: malformed report")
		return
	}

	report := interfaces.ClientReport{
		JobID:    p.JobID,
		ClientID: c.clientID,
		Kind:     interfaces.ClientReportKind(p.Kind),
		Stats:    p.Stats,
	}
	if p.Error != "" {
		report.Err = errors.New(p.Error)
	}
	_, reports := h.bound()
	reports.Report(report)
}

func (h *Hub) handleAck(raw json.RawMessage) {
	var ack ackPayload
	if err := json.Unmarshal(raw, &ack); err != nil {
		h.logger.Warn().Err(err).Msg("ws: malformed ack")
		return
	}

	h.pendingMu.Lock()
	ch, ok := h.pending[ack.RequestID]
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- ack:
	default:
	}
}

func (h *Hub) connFor(clientID string) (*conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[clientID]
	return c, ok
}

// DispatchStart implements interfaces.JobDispatcher: sends job's
// parameters to clientIDs. Delivery is fire-and-forget; completion
// arrives later as an asynchronous report.
func (h *Hub) DispatchStart(job *models.Job, clientIDs []string) error {
	payload := startJobPayload{JobID: job.ID, Parameters: job.Parameters}
	var failed []string
	for _, id := range clientIDs {
		c, ok := h.connFor(id)
		if !ok {
			failed = append(failed, id)
			continue
		}
		if err := c.writeEnvelope(msgStartJob, payload); err != nil {
			h.logger.Warn().Err(err).Str("client_id", id).Msg("ws: start dispatch failed")
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return models.NewError(models.ErrorKindDispatchFailed, fmt.Sprintf("could not reach client(s): %v", failed))
	}
	return nil
}

// DispatchStop implements interfaces.JobDispatcher.
func (h *Hub) DispatchStop(jobID string, clientIDs []string) error {
	payload := stopJobPayload{JobID: jobID}
	var failed []string
	for _, id := range clientIDs {
		c, ok := h.connFor(id)
		if !ok {
			continue // already gone; nothing to stop
		}
		if err := c.writeEnvelope(msgStopJob, payload); err != nil {
			h.logger.Warn().Err(err).Str("client_id", id).Msg("ws: stop dispatch failed")
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return models.NewError(models.ErrorKindDispatchFailed, fmt.Sprintf("could not reach client(s): %v", failed))
	}
	return nil
}

// StartClients implements clientmanager.Dispatcher: sends a
// start_clients command to managerClientID and waits for its
// synchronous accept/reject.
func (h *Hub) StartClients(ctx context.Context, managerClientID string, n int) error {
	return h.dispatchToManager(ctx, managerClientID, msgStartClients, n, func(requestID string) interface{} {
		return startClientsPayload{RequestID: requestID, Count: n}
	})
}

// StopClients implements clientmanager.Dispatcher.
func (h *Hub) StopClients(ctx context.Context, managerClientID string, n int) error {
	return h.dispatchToManager(ctx, managerClientID, msgStopClients, n, func(requestID string) interface{} {
		return stopClientsPayload{RequestID: requestID, Count: n}
	})
}

func (h *Hub) dispatchToManager(ctx context.Context, managerClientID, msgType string, n int, buildPayload func(requestID string) interface{}) error {
	c, ok := h.connFor(managerClientID)
	if !ok {
		return models.NewError(models.ErrorKindManagerUnreachable, managerClientID)
	}

	requestID := uuid.New().String()
	ackCh := make(chan ackPayload, 1)

	h.pendingMu.Lock()
	h.pending[requestID] = ackCh
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, requestID)
		h.pendingMu.Unlock()
	}()

	if err := c.writeEnvelope(msgType, buildPayload(requestID)); err != nil {
		return models.WrapError(models.ErrorKindManagerUnreachable, managerClientID, err)
	}

	select {
	case ack := <-ackCh:
		if !ack.Accepted {
			return models.NewError(models.ErrorKindManagerBusy, ack.Error)
		}
		return nil
	case <-ctx.Done():
		return models.WrapError(models.ErrorKindManagerUnreachable, managerClientID, ctx.Err())
	case <-time.After(30 * time.Second):
		return models.NewError(models.ErrorKindManagerUnreachable, fmt.Sprintf("%s: ack timed out", managerClientID))
	}
}
