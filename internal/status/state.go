// Package status tracks the plugin's observable state: the session
// lifecycle, in-flight request count, and build info, exposed over a
// loopback HTTP server and Prometheus metrics.
package status

import (
	"sync"
	"time"
)

// State is the externally visible snapshot served on /status.
type State struct {
	Session            string    `json:"session"`
	ConnectedToBroker  bool      `json:"connected_to_broker"`
	ConnectedToBackend bool      `json:"connected_to_backend"`
	InflightRequests   int       `json:"inflight_requests"`
	PluginID           string    `json:"plugin_id"`
	PluginName         string    `json:"plugin_name"`
	Provider           string    `json:"provider"`
	Model              string    `json:"model"`
	LastError          string    `json:"last_error"`
	LastHeartbeat      time.Time `json:"last_heartbeat"`
	ReconnectAttempts  int       `json:"reconnect_attempts"`
	Version            string    `json:"version"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

var (
	stateMu   sync.RWMutex
	stateData = State{Session: "disconnected"}
	buildInfo = VersionInfo{Version: "dev", BuildSHA: "unknown", BuildDate: "unknown"}
)

func resetState() {
	stateMu.Lock()
	defer stateMu.Unlock()
	stateData = State{Session: "disconnected"}
}

func SetBuildInfo(v, sha, date string) {
	buildInfo = VersionInfo{Version: v, BuildSHA: sha, BuildDate: date}
	stateMu.Lock()
	stateData.Version = v
	stateMu.Unlock()
}

func GetVersionInfo() VersionInfo {
	return buildInfo
}

func SetPluginInfo(id, name, provider, model string) {
	stateMu.Lock()
	stateData.PluginID = id
	stateData.PluginName = name
	stateData.Provider = provider
	stateData.Model = model
	stateMu.Unlock()
}

func SetSession(s string) {
	stateMu.Lock()
	stateData.Session = s
	stateMu.Unlock()
	setSessionMetric(s)
}

func SetConnectedToBroker(v bool) {
	stateMu.Lock()
	stateData.ConnectedToBroker = v
	stateMu.Unlock()
	setConnectedToBroker(v)
}

func SetConnectedToBackend(v bool) {
	stateMu.Lock()
	stateData.ConnectedToBackend = v
	stateMu.Unlock()
	setConnectedToBackend(v)
}

func SetLastError(err string) {
	stateMu.Lock()
	stateData.LastError = err
	stateMu.Unlock()
}

func SetLastHeartbeat(t time.Time) {
	stateMu.Lock()
	stateData.LastHeartbeat = t
	stateMu.Unlock()
}

func SetReconnectAttempts(n int) {
	stateMu.Lock()
	stateData.ReconnectAttempts = n
	stateMu.Unlock()
}

func IncInflight() {
	stateMu.Lock()
	stateData.InflightRequests++
	cur := stateData.InflightRequests
	stateMu.Unlock()
	setInflight(cur)
	requestStarted()
}

func DecInflight() {
	stateMu.Lock()
	if stateData.InflightRequests > 0 {
		stateData.InflightRequests--
	}
	cur := stateData.InflightRequests
	stateMu.Unlock()
	setInflight(cur)
}

// RequestCompleted records one finished request for the metrics surface.
func RequestCompleted(success bool, dur time.Duration) {
	requestCompleted(success, dur)
}

// FrameSent counts one outbound frame written to the broker socket.
func FrameSent() {
	frameSent()
}

func GetState() State {
	stateMu.RLock()
	defer stateMu.RUnlock()
	s := stateData
	return s
}
