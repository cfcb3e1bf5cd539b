package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
	"github.com/SixerrAI/sixerr-plugin/core/secret"
	aconfig "github.com/SixerrAI/sixerr-plugin/internal/config"
	"github.com/SixerrAI/sixerr-plugin/internal/plugin"
	"github.com/SixerrAI/sixerr-plugin/internal/session"
	"github.com/SixerrAI/sixerr-plugin/internal/status"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg aconfig.PluginConfig
	cfg.BindFlags()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "sixerr-plugin version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("sixerr-plugin version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	status.SetBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logx.Log.Warn().Msg("termination requested")
		cancel()
	}()

	log := logx.Log.Info().Str("plugin_name", cfg.PluginName).Str("model", cfg.Model)
	if cfg.JWT != "" {
		log = log.Str("jwt", secret.Mask(cfg.JWT))
	}
	log.Msg("plugin starting")

	if err := plugin.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, session.ErrAuthRejected) {
			logx.Log.Fatal().Err(err).Msg("credentials rejected; run setup again to reconfigure")
		}
		logx.Log.Fatal().Err(err).Msg("plugin exited")
	}
}
