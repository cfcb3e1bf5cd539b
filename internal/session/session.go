// Package session owns the persistent broker connection: dial,
// authentication handshake, heartbeat, reconnection with backoff, and
// demultiplexing inbound frames to the dispatcher.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
	"github.com/SixerrAI/sixerr-plugin/core/reconnect"
	"github.com/SixerrAI/sixerr-plugin/core/secret"
	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/dispatch"
	"github.com/SixerrAI/sixerr-plugin/internal/emit"
	"github.com/SixerrAI/sixerr-plugin/internal/status"
)

// State is one step of the session lifecycle.
type State string

const (
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"
	StateReconnecting   State = "reconnecting"
	StateClosed         State = "closed"
)

// ErrAuthRejected reports a broker auth_error. A bad credential will not
// self-heal, so the session closes instead of retrying.
var ErrAuthRejected = errors.New("broker rejected credentials")

// sustainedReady is how long a connection must stay READY for the backoff
// attempt counter to reset, so a single blip does not escalate backoff
// permanently.
const sustainedReady = 30 * time.Second

// Config holds the session's connection parameters.
type Config struct {
	BrokerURL string
	JWT       string
	Reconnect bool
}

// Manager owns one logical session. The physical connection is replaced
// wholesale on every reconnect; the backoff counter and the stored JWT are
// the only state carried across.
type Manager struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	state    State
	jwt      string
	pluginID string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a session manager. Run must be called to connect.
func New(cfg Config, d *dispatch.Dispatcher) *Manager {
	return &Manager{
		cfg:        cfg,
		dispatcher: d,
		state:      StateConnecting,
		jwt:        cfg.JWT,
		stopCh:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PluginID returns the broker-assigned plugin id from the last auth_ok.
func (m *Manager) PluginID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pluginID
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == StateClosed && s != StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	status.SetSession(string(s))
}

func (m *Manager) currentJWT() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jwt
}

// refreshJWT swaps the stored credential used for subsequent reconnects.
// It never resets the current authenticated state.
func (m *Manager) refreshJWT(jwt string) {
	m.mu.Lock()
	m.jwt = jwt
	m.mu.Unlock()
	logx.Log.Info().Str("jwt", secret.Mask(jwt)).Msg("credential refreshed")
}

// Stop is idempotent: the session transitions to CLOSED, all pending
// requests are cancelled, and no further reconnect attempts occur.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.setState(StateClosed)
		close(m.stopCh)
		m.dispatcher.CancelAll()
	})
}

func (m *Manager) closed() bool {
	return m.State() == StateClosed
}

// Run connects and serves until Stop, a fatal auth rejection, or (when
// reconnection is disabled) the first connection failure.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		if m.closed() || ctx.Err() != nil {
			return ctx.Err()
		}
		m.setState(StateConnecting)
		readyFor, err := m.connectAndServe(ctx)
		if errors.Is(err, ErrAuthRejected) {
			m.Stop()
			return err
		}
		if m.closed() || ctx.Err() != nil {
			return nil
		}
		if !m.cfg.Reconnect {
			return err
		}
		if readyFor >= sustainedReady {
			attempt = 0
		}
		m.setState(StateReconnecting)
		delay := reconnect.Delay(attempt)
		attempt++
		status.SetReconnectAttempts(attempt)
		logx.Log.Warn().Dur("backoff", delay).Err(err).Msg("broker connection lost; retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		case <-time.After(delay):
		}
	}
}

// connectAndServe runs one physical connection to completion. It returns
// how long the session stayed READY, for the backoff-reset decision.
func (m *Manager) connectAndServe(ctx context.Context) (readyFor time.Duration, err error) {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	ws, _, err := websocket.Dial(connCtx, m.cfg.BrokerURL, nil)
	if err != nil {
		status.SetLastError(err.Error())
		return 0, err
	}
	defer func() {
		_ = ws.Close(websocket.StatusInternalError, "closing")
	}()
	logx.Log.Info().Str("broker", m.cfg.BrokerURL).Msg("connected to broker")

	// Single-writer rule: every outbound frame goes through sendCh, drained
	// by one goroutine. Pongs get their own lane so heartbeat replies are
	// never queued behind stream events.
	sendCh := make(chan []byte, 16)
	pongCh := make(chan []byte, 4)
	go func() {
		defer cancelConn()
		write := func(msg []byte) bool {
			if err := ws.Write(connCtx, websocket.MessageText, msg); err != nil {
				return false
			}
			status.FrameSent()
			return true
		}
		for {
			select {
			case msg := <-pongCh:
				if !write(msg) {
					return
				}
			case <-connCtx.Done():
				return
			default:
			}
			select {
			case msg := <-pongCh:
				if !write(msg) {
					return
				}
			case msg := <-sendCh:
				if !write(msg) {
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()
	out := emit.New(connCtx, sendCh)

	m.setState(StateAuthenticating)
	out.Send(ctrl.AuthFrame{Type: "auth", JWT: m.currentJWT(), Protocol: ctrl.ProtocolVersion})
	if err := m.awaitAuth(connCtx, ws); err != nil {
		return 0, err
	}

	m.setState(StateReady)
	status.SetConnectedToBroker(true)
	status.SetLastError("")
	readyAt := time.Now()
	defer func() {
		readyFor = time.Since(readyAt)
		status.SetConnectedToBroker(false)
	}()

	for {
		_, data, err := ws.Read(connCtx)
		if err != nil {
			// In-flight requests at disconnect are terminal failures; the
			// broker re-submits if it wants a retry.
			m.dispatcher.CancelAll()
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				lvl := logx.Log.Info()
				if ce.Code != websocket.StatusNormalClosure {
					lvl = logx.Log.Error()
				}
				lvl.Str("reason", ce.Reason).Msg("broker connection closed")
			} else if ctx.Err() == nil {
				logx.Log.Error().Err(err).Msg("broker read error")
			}
			status.SetLastError(err.Error())
			return 0, err
		}
		frame, err := ctrl.Decode(data)
		if err != nil {
			logx.Log.Warn().Err(err).Msg("malformed frame dropped")
			continue
		}
		switch f := frame.(type) {
		case ctrl.PingFrame:
			// Answered from the read loop directly; request work never
			// delays the heartbeat.
			if b, err := json.Marshal(ctrl.PongFrame{Type: "pong", TS: f.TS}); err == nil {
				select {
				case pongCh <- b:
				case <-connCtx.Done():
				}
			}
			status.SetLastHeartbeat(time.Now())
		case ctrl.JWTRefreshFrame:
			m.refreshJWT(f.JWT)
		case ctrl.RequestFrame:
			logx.Log.Debug().Str("request", f.ID).Msg("request frame")
			m.dispatcher.Dispatch(connCtx, out, f.ID, f.Body)
		case ctrl.UnrecognizedFrame:
			logx.Log.Warn().Str("frame_type", f.Type).Msg("unrecognized frame dropped")
		default:
			logx.Log.Warn().Msg("unexpected frame in ready state dropped")
		}
	}
}

// awaitAuth reads frames until the broker answers the auth frame. Exactly
// one of auth_ok or auth_error is expected; a jwt_refresh is honored in
// this state too, and anything else is a protocol violation.
func (m *Manager) awaitAuth(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := ctrl.Decode(data)
		if err != nil {
			logx.Log.Warn().Err(err).Msg("malformed frame dropped during auth")
			continue
		}
		switch f := frame.(type) {
		case ctrl.AuthOKFrame:
			m.mu.Lock()
			m.pluginID = f.PluginID
			m.mu.Unlock()
			logx.Log.Info().Str("plugin_id", f.PluginID).Int("protocol", f.Protocol).Msg("authenticated")
			return nil
		case ctrl.AuthErrorFrame:
			logx.Log.Error().Str("reason", f.Message).Msg("authentication rejected")
			status.SetLastError(f.Message)
			return fmt.Errorf("%w: %s", ErrAuthRejected, f.Message)
		case ctrl.JWTRefreshFrame:
			m.refreshJWT(f.JWT)
		default:
			return fmt.Errorf("protocol violation: unexpected frame during auth")
		}
	}
}
