// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package safety latches the host into a shutdown state on emergency stop
// or a stalled dispatch loop. While shut down, motion requests are refused
// until Reset.
package safety

import (
	"context"
	"sync"
	"time"

	"multidriver-go/pkg/errors"
	"multidriver-go/pkg/log"
)

// ShutdownState represents the host's shutdown state.
type ShutdownState int

const (
	// StateRunning indicates normal operation.
	StateRunning ShutdownState = iota

	// StateShuttingDown indicates motors are being halted.
	StateShuttingDown

	// StateShutdown indicates a requested shutdown.
	StateShutdown

	// StateError indicates a fault-triggered shutdown.
	StateError
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ShutdownReason describes why the host was shut down.
type ShutdownReason string

const (
	ReasonNone            ShutdownReason = ""
	ReasonEmergencyStop   ShutdownReason = "emergency_stop"
	ReasonWatchdogTimeout ShutdownReason = "watchdog_timeout"
	ReasonUserRequest     ShutdownReason = "user_request"
)

// Motors is the motion side that a shutdown halts and a reset re-energizes.
type Motors interface {
	DisableMotors(ctx context.Context) error
	EnableMotors(ctx context.Context) error
}

// Defaults
const (
	DefaultWatchdogTimeout = 5 * time.Second
	DefaultHaltTimeout     = time.Second
	watchdogCheckPeriod    = 100 * time.Millisecond
)

// Manager tracks the shutdown state.
type Manager struct {
	mu sync.RWMutex

	state          ShutdownState
	shutdownReason ShutdownReason
	shutdownMsg    string
	shutdownTime   time.Time

	motors []Motors

	// Watchdog
	watchdogCancel  context.CancelFunc
	watchdogArmed   bool
	watchdogTimeout time.Duration
	haltTimeout     time.Duration
	lastHeartbeat   time.Time
	watchdogMu      sync.Mutex

	onShutdown    []func(reason ShutdownReason, msg string)
	onStateChange []func(oldState, newState ShutdownState)

	logger *log.Logger
}

// New creates a Manager in the running state.
func New() *Manager {
	return &Manager{
		state:           StateRunning,
		watchdogTimeout: DefaultWatchdogTimeout,
		haltTimeout:     DefaultHaltTimeout,
		logger:          log.GetLogger("safety"),
	}
}

// Config holds manager settings. Zero values keep the defaults.
type Config struct {
	// WatchdogTimeout is how long the dispatch loop may go without a
	// heartbeat.
	WatchdogTimeout time.Duration

	// HaltTimeout bounds each motor call made during shutdown.
	HaltTimeout time.Duration
}

// Configure applies cfg.
func (m *Manager) Configure(cfg Config) {
	m.watchdogMu.Lock()
	if cfg.WatchdogTimeout > 0 {
		m.watchdogTimeout = cfg.WatchdogTimeout
	}
	m.watchdogMu.Unlock()

	m.mu.Lock()
	if cfg.HaltTimeout > 0 {
		m.haltTimeout = cfg.HaltTimeout
	}
	m.mu.Unlock()
}

// RegisterMotors registers a motor group to halt on shutdown.
func (m *Manager) RegisterMotors(motors Motors) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motors = append(m.motors, motors)
}

// OnShutdown registers a callback run after a shutdown completes.
func (m *Manager) OnShutdown(fn func(reason ShutdownReason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// OnStateChange registers a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState ShutdownState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() ShutdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsShutdown reports whether a shutdown has completed.
func (m *Manager) IsShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateShutdown || m.state == StateError
}

// IsOperational reports whether motion is allowed.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns a SHUTDOWN error unless motion is allowed.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		return errors.ShutdownError(string(m.shutdownReason), m.shutdownMsg)
	}
	return nil
}

// EmergencyStop halts every motor at once and releases them.
func (m *Manager) EmergencyStop(msg string) error {
	return m.invokeShutdown(ReasonEmergencyStop, msg)
}

// WatchdogTimeout shuts down after a missed heartbeat.
func (m *Manager) WatchdogTimeout() error {
	return m.invokeShutdown(ReasonWatchdogTimeout, "dispatch loop heartbeat timeout")
}

// RequestShutdown shuts down on user request.
func (m *Manager) RequestShutdown(msg string) error {
	return m.invokeShutdown(ReasonUserRequest, msg)
}

// invokeShutdown halts the registered motors. Motor errors are logged and
// the shutdown still completes. A second shutdown is ignored.
func (m *Manager) invokeShutdown(reason ShutdownReason, msg string) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}

	oldState := m.state
	m.state = StateShuttingDown
	m.shutdownReason = reason
	m.shutdownMsg = msg
	m.shutdownTime = time.Now()
	motors := append([]Motors(nil), m.motors...)
	haltTimeout := m.haltTimeout
	m.mu.Unlock()

	m.haltWatchdog()
	m.logger.WithFields(log.Fields{"reason": string(reason), "message": msg}).Error("shutting down")

	var first error
	for _, mo := range motors {
		ctx, cancel := context.WithTimeout(context.Background(), haltTimeout)
		err := mo.DisableMotors(ctx)
		cancel()
		if err != nil {
			m.logger.WithError(err).Error("failed to release motors")
			if first == nil {
				first = err
			}
		}
	}

	m.mu.Lock()
	finalState := StateShutdown
	if reason == ReasonEmergencyStop || reason == ReasonWatchdogTimeout {
		finalState = StateError
	}
	m.state = finalState
	onShutdown := append(([]func(ShutdownReason, string))(nil), m.onShutdown...)
	onStateChange := append(([]func(ShutdownState, ShutdownState))(nil), m.onStateChange...)
	m.mu.Unlock()

	for _, fn := range onStateChange {
		fn(oldState, finalState)
	}
	for _, fn := range onShutdown {
		fn(reason, msg)
	}

	if first != nil {
		return errors.Wrap(first, errors.ErrRuntime, "shutdown could not release every motor")
	}
	return nil
}

// StartWatchdog starts checking for heartbeats. The watchdog stays armed
// across a shutdown and resumes on Reset until StopWatchdog.
func (m *Manager) StartWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()

	m.watchdogArmed = true
	if m.watchdogCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.lastHeartbeat = time.Now()

	go m.watchdogLoop(ctx)
}

// StopWatchdog stops the watchdog and disarms it.
func (m *Manager) StopWatchdog() {
	m.watchdogMu.Lock()
	m.watchdogArmed = false
	m.watchdogMu.Unlock()
	m.haltWatchdog()
}

// WatchdogRunning reports whether heartbeats are being checked.
func (m *Manager) WatchdogRunning() bool {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	return m.watchdogCancel != nil
}

// haltWatchdog stops checking without disarming.
func (m *Manager) haltWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()

	if m.watchdogCancel != nil {
		m.watchdogCancel()
		m.watchdogCancel = nil
	}
}

// Heartbeat feeds the watchdog. Call it regularly from the dispatch loop.
func (m *Manager) Heartbeat() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	m.lastHeartbeat = time.Now()
}

// HeartbeatPeriod is how often the dispatch loop should call Heartbeat.
func (m *Manager) HeartbeatPeriod() time.Duration {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	return m.watchdogTimeout / 4
}

func (m *Manager) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.watchdogMu.Lock()
			elapsed := time.Since(m.lastHeartbeat)
			timeout := m.watchdogTimeout
			m.watchdogMu.Unlock()

			if elapsed > timeout {
				m.WatchdogTimeout()
				return
			}
		}
	}
}

// Reset returns to the running state, re-energizes the motors and resumes
// an armed watchdog. It is only allowed after a completed shutdown.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateRunning || m.state == StateShuttingDown {
		m.mu.Unlock()
		return errors.RuntimeError("cannot reset while running or shutting down")
	}
	oldState := m.state
	m.state = StateRunning
	m.shutdownReason = ReasonNone
	m.shutdownMsg = ""
	m.shutdownTime = time.Time{}
	motors := append([]Motors(nil), m.motors...)
	onStateChange := append(([]func(ShutdownState, ShutdownState))(nil), m.onStateChange...)
	m.mu.Unlock()

	m.logger.Info("reset")
	for _, fn := range onStateChange {
		fn(oldState, StateRunning)
	}

	m.watchdogMu.Lock()
	armed := m.watchdogArmed
	m.watchdogMu.Unlock()
	if armed {
		m.StartWatchdog()
	}
	for _, mo := range motors {
		if err := mo.EnableMotors(ctx); err != nil {
			return errors.Wrap(err, errors.ErrRuntime, "enable motors after reset")
		}
	}
	return nil
}

// Status is a reporting snapshot.
type Status struct {
	State          string    `json:"state"`
	ShutdownReason string    `json:"shutdown_reason,omitempty"`
	ShutdownMsg    string    `json:"shutdown_message,omitempty"`
	ShutdownTime   time.Time `json:"shutdown_time,omitempty"`
	IsOperational  bool      `json:"operational"`
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		State:          m.state.String(),
		ShutdownReason: string(m.shutdownReason),
		ShutdownMsg:    m.shutdownMsg,
		ShutdownTime:   m.shutdownTime,
		IsOperational:  m.state == StateRunning,
	}
}
