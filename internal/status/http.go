package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
)

// hostStats is the host resource section of the status payload.
type hostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
}

func collectHostStats() hostStats {
	var hs hostStats
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		hs.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hs.MemoryUsed = vm.Used
		hs.MemoryTotal = vm.Total
		hs.MemoryPercent = vm.UsedPercent
	}
	return hs
}

// StartStatusServer starts the loopback status HTTP server. It returns the
// address it is listening on.
func StartStatusServer(ctx context.Context, addr string) (string, error) {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		payload := struct {
			State
			Host hostStats `json:"host"`
		}{State: GetState(), Host: collectHostStats()}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logx.Log.Error().Err(err).Msg("encode status")
		}
	})
	r.Get("/version", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(GetVersionInfo()); err != nil {
			logx.Log.Error().Err(err).Msg("encode version")
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Msg("status server")
		}
	}()
	logx.Log.Info().Str("addr", ln.Addr().String()).Msg("status server started")
	return ln.Addr().String(), nil
}
