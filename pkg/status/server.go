// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package status provides a JSON-RPC 2.0 API for a motor group, over HTTP
// and WebSocket, with periodic status notifications for subscribers.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"multidriver-go/pkg/errors"
	"multidriver-go/pkg/log"
	"multidriver-go/pkg/reactor"
	"multidriver-go/pkg/safety"
)

// Version is reported by server.info.
const Version = "0.1.0"

// DefaultStatusInterval is the notify_status_update period (4 Hz).
const DefaultStatusInterval = 250 * time.Millisecond

// JSON-RPC 2.0 error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Controller is the motor group the server drives.
type Controller interface {
	Name() string
	Move(ctx context.Context, steps ...int64) (*reactor.Move, error)
	Rotate(ctx context.Context, deg ...float64) (*reactor.Move, error)
	Brake(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() reactor.Snapshot
	OnMoveComplete(fn func(reactor.MoveResult))
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on (e.g., "127.0.0.1:7125")
	Addr string

	Controller Controller

	// Safety, when set, gates motion on the shutdown state and handles
	// emergency stop and reset.
	Safety *safety.Manager

	// StatusInterval is the subscriber update period. Zero means 4 Hz.
	StatusInterval time.Duration
}

// Server serves the group API.
type Server struct {
	ctrl     Controller
	safety   *safety.Manager
	addr     string
	interval time.Duration
	logger   *log.Logger

	httpServer *http.Server
	router     chi.Router

	// WebSocket management
	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clients subscribed to notify_status_update
	subscriptions map[int64]bool
	subMu         sync.RWMutex

	running   atomic.Bool
	startTime time.Time
	stopOnce  sync.Once
	done      chan struct{}
	loopOnce  sync.Once
	boundMu   sync.Mutex
	bound     string
}

// New creates a server for cfg.Controller and hooks move completion
// notifications into it.
func New(cfg Config) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	s := &Server{
		ctrl:          cfg.Controller,
		safety:        cfg.Safety,
		addr:          cfg.Addr,
		interval:      cfg.StatusInterval,
		logger:        log.GetLogger("status"),
		router:        chi.NewRouter(),
		wsClients:     make(map[int64]*WSClient),
		subscriptions: make(map[int64]bool),
		startTime:     time.Now(),
		done:          make(chan struct{}),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsMiddleware)

	s.router.Post("/jsonrpc", s.handleJSONRPC)
	s.router.Get("/websocket", s.handleWebSocket)
	s.router.Get("/server/info", s.handleServerInfo)
	s.router.Get("/group/status", s.handleGroupStatus)
	s.router.Post("/group/emergency_stop", s.handleEmergencyStop)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.ctrl.OnMoveComplete(s.notifyMoveComplete)
	if s.safety != nil {
		s.safety.OnShutdown(s.notifyShutdown)
	}
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Address returns the bound address once serving, else the configured one.
func (s *Server) Address() string {
	s.boundMu.Lock()
	defer s.boundMu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.boundMu.Lock()
	s.bound = ln.Addr().String()
	s.boundMu.Unlock()

	s.running.Store(true)
	s.loopOnce.Do(func() { go s.statusBroadcastLoop() })
	s.logger.WithField("addr", s.bound).Info("status API listening")

	err := s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server error: %w", err)
	}
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown closes every WebSocket client and stops the HTTP server
// gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	s.closeAll()
	return s.httpServer.Close()
}

func (s *Server) closeAll() {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.done) })

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Data carries the host error code, e.g. "GROUP_BUSY".
	Data any `json:"data,omitempty"`
}

type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcError maps a host error onto a JSON-RPC error object.
func rpcError(err error) *jsonRPCError {
	code := errors.CodeOf(err)
	e := &jsonRPCError{Code: codeServerError, Message: err.Error()}
	switch code {
	case errors.ErrRPCMethod:
		e.Code = codeMethodNotFound
	case errors.ErrRPCParams:
		e.Code = codeInvalidParams
	}
	if code != "" {
		e.Data = string(code)
	}
	return e
}

// handleJSONRPC handles JSON-RPC 2.0 requests over HTTP POST.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &jsonRPCError{Code: codeParseError, Message: "Parse error"},
		})
		return
	}

	s.writeJSON(w, s.call(r.Context(), req, nil))
}

func (s *Server) call(ctx context.Context, req jsonRPCRequest, client *WSClient) jsonRPCResponse {
	result, err := s.dispatchMethod(ctx, req.Method, req.Params, client)
	if err != nil {
		s.logger.WithFields(log.Fields{"method": req.Method, "error": err.Error()}).Debug("request failed")
		return jsonRPCResponse{JSONRPC: "2.0", Error: rpcError(err), ID: req.ID}
	}
	return jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID}
}

// dispatchMethod routes a method call to the appropriate handler. client is
// nil for HTTP requests.
func (s *Server) dispatchMethod(ctx context.Context, method string, params json.RawMessage, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "group.status":
		return s.ctrl.Snapshot(), nil
	case "group.move":
		return s.methodMove(ctx, params)
	case "group.rotate":
		return s.methodRotate(ctx, params)
	case "group.brake":
		if err := s.ctrl.Brake(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrRuntime, "brake failed")
		}
		return "ok", nil
	case "group.stop":
		if err := s.ctrl.Stop(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrRuntime, "stop failed")
		}
		return "ok", nil
	case "group.emergency_stop":
		if err := s.emergencyStop(ctx); err != nil {
			return nil, err
		}
		return "ok", nil
	case "group.reset":
		if s.safety == nil {
			return nil, errors.RPCMethodError(method)
		}
		if err := s.safety.Reset(ctx); err != nil {
			return nil, err
		}
		return "ok", nil
	case "group.subscribe":
		return s.methodSubscribe(client)
	default:
		return nil, errors.RPCMethodError(method)
	}
}

// Method implementations

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()

	state := "running"
	var shutdown any
	if s.safety != nil {
		st := s.safety.GetStatus()
		state = st.State
		if !st.IsOperational {
			shutdown = st
		}
	}

	return map[string]any{
		"state":           state,
		"shutdown":        shutdown,
		"group":           s.ctrl.Name(),
		"version":         Version,
		"hostname":        hostname,
		"websocket_count": clients,
		"uptime":          time.Since(s.startTime).Seconds(),
		"methods": []string{
			"server.info", "group.status", "group.move", "group.rotate",
			"group.brake", "group.stop", "group.emergency_stop", "group.reset",
			"group.subscribe",
		},
	}
}

func decodeParams(method string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.RPCParamsError(method, "missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.RPCParamsError(method, err.Error())
	}
	return nil
}

func (s *Server) checkArity(method string, n int) error {
	motors := len(s.ctrl.Snapshot().Motors)
	if n == 0 {
		return errors.RPCParamsError(method, "no motors given")
	}
	if n > motors {
		return errors.RPCParamsError(method, fmt.Sprintf("%d values for %d motors", n, motors))
	}
	return nil
}

// operational refuses motion while shut down.
func (s *Server) operational() error {
	if s.safety == nil {
		return nil
	}
	return s.safety.CheckOperational()
}

func (s *Server) emergencyStop(ctx context.Context) error {
	if s.safety == nil {
		return s.ctrl.Stop(ctx)
	}
	return s.safety.EmergencyStop("requested over the status API")
}

func (s *Server) methodMove(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Steps []int64 `json:"steps"`
	}
	if err := decodeParams("group.move", raw, &p); err != nil {
		return nil, err
	}
	if err := s.checkArity("group.move", len(p.Steps)); err != nil {
		return nil, err
	}
	if err := s.operational(); err != nil {
		return nil, err
	}
	m, err := s.ctrl.Move(ctx, p.Steps...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"move_id": m.ID, "steps": m.Steps}, nil
}

func (s *Server) methodRotate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Degrees []float64 `json:"degrees"`
	}
	if err := decodeParams("group.rotate", raw, &p); err != nil {
		return nil, err
	}
	if err := s.checkArity("group.rotate", len(p.Degrees)); err != nil {
		return nil, err
	}
	if err := s.operational(); err != nil {
		return nil, err
	}
	m, err := s.ctrl.Rotate(ctx, p.Degrees...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"move_id": m.ID, "steps": m.Steps}, nil
}

func (s *Server) methodSubscribe(client *WSClient) (any, error) {
	if client == nil {
		return nil, errors.RPCParamsError("group.subscribe", "requires a websocket connection")
	}
	s.subMu.Lock()
	s.subscriptions[client.id] = true
	s.subMu.Unlock()
	return s.ctrl.Snapshot(), nil
}

// REST handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.methodServerInfo()})
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.ctrl.Snapshot()})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.emergencyStop(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"error": rpcError(err)})
		return
	}
	s.writeJSON(w, map[string]any{"result": "ok"})
}

// CORS middleware to allow browser clients on other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// Notifications

// notifyMoveComplete runs on the reactor goroutine, so it only enqueues.
func (s *Server) notifyMoveComplete(res reactor.MoveResult) {
	n := jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  "notify_move_complete",
		Params: []any{map[string]any{
			"move_id":    res.ID,
			"steps":      res.Steps,
			"ticks":      res.Ticks,
			"elapsed_us": res.Elapsed.Microseconds(),
			"stopped":    res.Stopped,
		}},
	}
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.Send(n)
	}
}

// notifyShutdown tells every client that the host shut down.
func (s *Server) notifyShutdown(reason safety.ShutdownReason, msg string) {
	n := jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  "notify_shutdown",
		Params:  []any{map[string]any{"reason": string(reason), "message": msg}},
	}
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.Send(n)
	}
}

// statusBroadcastLoop sends status updates to subscribed clients until the
// server stops.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcastStatusUpdates()
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcastStatusUpdates() {
	s.subMu.RLock()
	ids := make([]int64, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	s.subMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	eventtime := time.Since(s.startTime).Seconds()
	n := jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  "notify_status_update",
		Params:  []any{s.ctrl.Snapshot(), eventtime},
	}

	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, id := range ids {
		if client, ok := s.wsClients[id]; ok {
			client.Send(n)
		}
	}
}

// handleWebSocket upgrades the connection and serves it until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.newWSClient(conn)
	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()

	s.logger.WithField("client", client.id).Debug("websocket client connected")

	go client.writePump()
	client.readPump()
}

// removeClient removes a client and its subscription.
func (s *Server) removeClient(client *WSClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	s.wsClientMu.Unlock()

	s.subMu.Lock()
	delete(s.subscriptions, client.id)
	s.subMu.Unlock()

	s.logger.WithField("client", client.id).Debug("websocket client disconnected")
}
