package status

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
)

var (
	connectedToBrokerGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sixerr_plugin_connected_to_broker",
		Help: "Whether the plugin session is established (1 or 0)",
	})
	connectedToBackendGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sixerr_plugin_connected_to_backend",
		Help: "Whether the plugin can reach its LLM backend (1 or 0)",
	})
	sessionStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sixerr_plugin_session_state",
		Help: "Current session state (1 on the active state label)",
	}, []string{"state"})
	inflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sixerr_plugin_inflight_requests",
		Help: "Number of requests currently being processed",
	})
	requestsStartedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sixerr_plugin_requests_started_total",
		Help: "Total number of requests started",
	})
	requestsSucceededCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sixerr_plugin_requests_succeeded_total",
		Help: "Total number of requests that completed within their deadline",
	})
	requestsFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sixerr_plugin_requests_failed_total",
		Help: "Total number of requests force-released after timeout",
	})
	framesSentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sixerr_plugin_frames_sent_total",
		Help: "Total number of frames written to the broker socket",
	})
	requestDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sixerr_plugin_request_duration_seconds",
		Help:    "Duration of requests in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

var sessionStates = []string{"disconnected", "connecting", "authenticating", "ready", "reconnecting", "closed"}

// StartMetricsServer starts an HTTP server exposing Prometheus metrics on
// /metrics. It returns the address it is listening on.
func StartMetricsServer(ctx context.Context, addr string) (string, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		connectedToBrokerGauge,
		connectedToBackendGauge,
		sessionStateGauge,
		inflightGauge,
		requestsStartedCounter,
		requestsSucceededCounter,
		requestsFailedCounter,
		framesSentCounter,
		requestDurationHist,
	)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Msg("metrics server")
		}
	}()
	logx.Log.Info().Str("addr", ln.Addr().String()).Msg("metrics server started")
	return ln.Addr().String(), nil
}

func setConnectedToBroker(v bool) {
	if v {
		connectedToBrokerGauge.Set(1)
	} else {
		connectedToBrokerGauge.Set(0)
	}
}

func setConnectedToBackend(v bool) {
	if v {
		connectedToBackendGauge.Set(1)
	} else {
		connectedToBackendGauge.Set(0)
	}
}

func setSessionMetric(state string) {
	for _, s := range sessionStates {
		if s == state {
			sessionStateGauge.WithLabelValues(s).Set(1)
		} else {
			sessionStateGauge.WithLabelValues(s).Set(0)
		}
	}
}

func setInflight(n int) {
	inflightGauge.Set(float64(n))
}

func requestStarted() {
	requestsStartedCounter.Inc()
}

func requestCompleted(success bool, dur time.Duration) {
	if success {
		requestsSucceededCounter.Inc()
	} else {
		requestsFailedCounter.Inc()
	}
	requestDurationHist.Observe(dur.Seconds())
}

func frameSent() {
	framesSentCounter.Inc()
}
