// Package plugin wires the plugin process together: credentials, backend
// client, translators, dispatcher, session, and the local status surface.
package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
	aconfig "github.com/SixerrAI/sixerr-plugin/internal/config"
	"github.com/SixerrAI/sixerr-plugin/internal/dispatch"
	"github.com/SixerrAI/sixerr-plugin/internal/llm"
	"github.com/SixerrAI/sixerr-plugin/internal/session"
	"github.com/SixerrAI/sixerr-plugin/internal/status"
	"github.com/SixerrAI/sixerr-plugin/internal/translate"
	"github.com/SixerrAI/sixerr-plugin/internal/wallet"
)

const backendProbeInterval = time.Minute

// Run starts the plugin and blocks until the session ends.
func Run(ctx context.Context, cfg aconfig.PluginConfig) error {
	if cfg.PluginID == "" {
		cfg.PluginID = uuid.NewString()
	}
	status.SetPluginInfo(cfg.PluginID, cfg.PluginName, cfg.Provider, cfg.Model)

	// An unresolvable model is startup-fatal, not a per-request error.
	creds, err := wallet.NewStaticCredentials(cfg.Provider, cfg.Model, cfg.BackendAPIKey)
	if err != nil {
		return err
	}
	client := llm.NewOpenAIClient(cfg.BackendBaseURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.StatusAddr != "" {
		if _, err := status.StartStatusServer(ctx, cfg.StatusAddr); err != nil {
			return err
		}
	}
	if cfg.MetricsAddr != "" {
		if _, err := status.StartMetricsServer(ctx, cfg.MetricsAddr); err != nil {
			return err
		}
	}
	go probeBackend(ctx, client, creds)

	chat := translate.NewChat(client, creds)
	responses := translate.NewResponses(client, creds)
	dispatcher := dispatch.New(chat, responses, cfg.RequestTimeout)
	mgr := session.New(session.Config{
		BrokerURL: cfg.BrokerURL,
		JWT:       cfg.JWT,
		Reconnect: cfg.Reconnect,
	}, dispatcher)
	go func() {
		<-ctx.Done()
		mgr.Stop()
	}()
	return mgr.Run(ctx)
}

func probeBackend(ctx context.Context, client *llm.OpenAIClient, creds wallet.CredentialSource) {
	probe := func() {
		key, err := creds.APIKey(ctx)
		if err == nil {
			err = client.Health(ctx, key)
		}
		if err != nil {
			status.SetConnectedToBackend(false)
			logx.Log.Warn().Err(err).Msg("backend unreachable")
			return
		}
		status.SetConnectedToBackend(true)
	}
	probe()
	ticker := time.NewTicker(backendProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
