package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/dispatch"
	"github.com/SixerrAI/sixerr-plugin/internal/translate"
)

type echoTranslator struct{}

func (echoTranslator) Name() string { return "chat" }

func (echoTranslator) Run(ctx context.Context, body []byte, sink translate.Sink) {
	sink.Response(map[string]any{"echo": json.RawMessage(body)})
}

func newTestDispatcher() *dispatch.Dispatcher {
	return dispatch.New(echoTranslator{}, echoTranslator{}, time.Minute)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(ctx context.Context, t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Errorf("broker read: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("broker decode %s: %v", data, err)
	}
}

func writeFrame(ctx context.Context, t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Errorf("broker write: %v", err)
	}
}

func TestSessionAuthHeartbeatRequest(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()

		var auth ctrl.AuthFrame
		readFrame(ctx, t, ws, &auth)
		if auth.Type != "auth" || auth.JWT != "tok-1" || auth.Protocol != ctrl.ProtocolVersion {
			t.Errorf("auth frame: %#v", auth)
		}
		writeFrame(ctx, t, ws, `{"type":"auth_ok","pluginId":"pl_1","protocol":1}`)

		writeFrame(ctx, t, ws, `{"type":"ping","ts":42}`)
		var pong ctrl.PongFrame
		readFrame(ctx, t, ws, &pong)
		if pong.Type != "pong" || pong.TS != 42 {
			t.Errorf("pong frame: %#v", pong)
		}

		writeFrame(ctx, t, ws, `{"type":"request","id":"r1","body":{"messages":[{"role":"user","content":"hi"}]}}`)
		var resp ctrl.ResponseFrame
		readFrame(ctx, t, ws, &resp)
		if resp.Type != "response" || resp.ID != "r1" {
			t.Errorf("response frame: %#v", resp)
		}

		close(done)
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer srv.Close()

	mgr := New(Config{BrokerURL: wsURL(srv), JWT: "tok-1", Reconnect: false}, newTestDispatcher())
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broker script did not complete")
	}
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after broker close")
	}
	if got := mgr.PluginID(); got != "pl_1" {
		t.Errorf("plugin id: %q", got)
	}
}

func TestSessionAuthRejectedIsFatal(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()
		var auth ctrl.AuthFrame
		readFrame(ctx, t, ws, &auth)
		writeFrame(ctx, t, ws, `{"type":"auth_error","message":"token expired"}`)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	// Reconnect enabled, but a rejected credential must not redial.
	mgr := New(Config{BrokerURL: wsURL(srv), JWT: "bad", Reconnect: true}, newTestDispatcher())
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(context.Background()) }()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrAuthRejected) {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if n := dials.Load(); n != 1 {
		t.Errorf("dial count: %d", n)
	}
	if mgr.State() != StateClosed {
		t.Errorf("state: %v", mgr.State())
	}
}

// A jwt_refresh received mid-session must be used on the next reconnect.
func TestSessionReconnectWithRefreshedJWT(t *testing.T) {
	var dials atomic.Int32
	reauthed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()
		var auth ctrl.AuthFrame
		readFrame(ctx, t, ws, &auth)
		writeFrame(ctx, t, ws, `{"type":"auth_ok","pluginId":"pl_1","protocol":1}`)
		if n == 1 {
			writeFrame(ctx, t, ws, `{"type":"jwt_refresh","jwt":"tok-2"}`)
			// A ping round trip proves the refresh was consumed before the
			// connection drops.
			writeFrame(ctx, t, ws, `{"type":"ping","ts":1}`)
			var pong ctrl.PongFrame
			readFrame(ctx, t, ws, &pong)
			_ = ws.Close(websocket.StatusGoingAway, "rotating")
			return
		}
		reauthed <- auth.JWT
		_ = ws.CloseRead(ctx)
		<-ctx.Done()
	}))
	defer srv.Close()

	mgr := New(Config{BrokerURL: wsURL(srv), JWT: "tok-1", Reconnect: true}, newTestDispatcher())
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(context.Background()) }()

	select {
	case jwt := <-reauthed:
		if jwt != "tok-2" {
			t.Errorf("reconnect jwt: %q", jwt)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no second dial")
	}

	mgr.Stop()
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	mgr := New(Config{BrokerURL: "ws://127.0.0.1:1", JWT: "t", Reconnect: true}, newTestDispatcher())
	mgr.Stop()
	mgr.Stop()
	if mgr.State() != StateClosed {
		t.Errorf("state: %v", mgr.State())
	}
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(context.Background()) }()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return for a closed session")
	}
}
