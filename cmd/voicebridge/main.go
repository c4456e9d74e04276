package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/origen-labs/voicebridge/internal/agent"
	"github.com/origen-labs/voicebridge/internal/bridge"
	"github.com/origen-labs/voicebridge/internal/call"
	"github.com/origen-labs/voicebridge/internal/callops"
	"github.com/origen-labs/voicebridge/internal/config"
	"github.com/origen-labs/voicebridge/internal/httpapi"
	"github.com/origen-labs/voicebridge/internal/observability"
	"github.com/origen-labs/voicebridge/internal/realtime"
	"github.com/origen-labs/voicebridge/internal/telnyx"
	"github.com/origen-labs/voicebridge/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer transcripts.Close()

	telnyxClient := telnyx.NewClient(cfg.TelnyxAPIKey, cfg.TelnyxAPIBase)
	profile := agent.NewProfile(cfg)
	if len(profile.Departments) > 0 {
		log.Printf("transfer departments configured: %v", profile.DepartmentNames())
	} else {
		log.Printf("no transfer departments configured, transfer_call tool disabled")
	}

	calls := call.NewManager()
	pending := callops.NewStore()
	dispatcher := callops.NewDispatcher(pending, profile)
	executor := callops.NewExecutor(pending, telnyxClient, metrics)

	sessionBridge := bridge.New(bridge.Options{
		Profile: profile,
		Dial: func(ctx context.Context) (bridge.ModelConn, error) {
			return realtime.Dial(ctx, cfg.RealtimeWSURL, cfg.RealtimeModel, cfg.OpenAIAPIKey)
		},
		Dispatcher:       dispatcher,
		Executor:         executor,
		Pending:          pending,
		Calls:            calls,
		Transcripts:      transcripts,
		Metrics:          metrics,
		SetupTimeout:     cfg.SetupTimeout,
		DrainGracePeriod: cfg.DrainGracePeriod,
	})

	api := httpapi.New(cfg, telnyxClient, sessionBridge, calls, transcripts, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s, media stream endpoint wss://%s/telnyx_media", cfg.BindAddr, cfg.PublicDomain)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
