package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antoniostano/botfleet/internal/automation"
	"github.com/antoniostano/botfleet/internal/bots"
	"github.com/antoniostano/botfleet/internal/completion"
	"github.com/antoniostano/botfleet/internal/config"
	"github.com/antoniostano/botfleet/internal/gateway"
	"github.com/antoniostano/botfleet/internal/observability"
	"github.com/antoniostano/botfleet/internal/store"
	"github.com/antoniostano/botfleet/internal/telegram"
)

type BuildResult struct {
	Config     config.Config
	Store      store.Store
	Handoff    *automation.Handoff
	Telegram   *bots.Manager
	WhatsApp   *bots.Manager
	Dispatcher *bots.Dispatcher
	API        *gateway.Server
	Hub        *gateway.Hub
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	client, err := completion.NewClient(completion.Config{
		Mode:    cfg.CompletionMode,
		Model:   cfg.CompletionModel,
		BaseURL: cfg.CompletionBaseURL,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("completion client init failed: %w", err)
	}

	handoff := automation.NewHandoff(cfg.HandoffTTL)
	hub := gateway.NewHub(logger)

	deps := bots.HandlerDeps{
		Store:        st,
		Client:       client,
		Metrics:      metrics,
		Logger:       logger,
		HistoryLimit: cfg.HistoryLimit,
		RateLimit:    cfg.RateLimitMessages,
		RateWindow:   cfg.RateLimitWindow,
	}

	tg := bots.NewManager(bots.ManagerConfig{
		Platform: store.PlatformTelegram,
		Deps:     deps,
		Transport: telegram.Factory(telegram.Config{
			Mode:          telegram.Mode(cfg.TelegramMode),
			PublicBaseURL: cfg.PublicBaseURL,
			APIBaseURL:    cfg.TelegramAPIBaseURL,
		}, logger),
		Metrics:     metrics,
		Logger:      logger,
		StopTimeout: cfg.StopTimeout,
		OnChange:    hub.Broadcast,
	})

	var driver automation.Driver = automation.RemoteDriver{}
	waitForReady := false
	if cfg.AutomationCommand != "" {
		execDriver, err := automation.NewExecDriver(automation.DriverConfig{
			Command:     cfg.AutomationCommand,
			Args:        cfg.AutomationArgs,
			GracePeriod: cfg.AutomationGracePeriod,
		}, automationBaseURL(cfg))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("automation driver init failed: %w", err)
		}
		driver = execDriver
		waitForReady = true
	}

	wa := bots.NewManager(bots.ManagerConfig{
		Platform: store.PlatformWhatsApp,
		Deps:     deps,
		Transport: automation.Factory(automation.TransportConfig{
			ReadyTimeout: cfg.AutomationReadyTimeout,
			WaitForReady: waitForReady,
		}, handoff, driver, logger),
		Metrics:     metrics,
		Logger:      logger,
		StopTimeout: cfg.StopTimeout,
		OnChange:    hub.Broadcast,
	})

	dispatcher := bots.NewDispatcher(tg, wa)

	// Evicted handoff entries belong to sessions whose automation process
	// went silent; tear the runtime down so the session can be restarted.
	handoff.SetEvictHook(func(sessionID int64) {
		logger.Warn("automation session went stale", "session_id", sessionID)
		_ = wa.Stop(context.Background(), sessionID)
	})
	handoff.StartJanitor(ctx, cfg.HandoffTTL/4)

	api := gateway.New(gateway.Options{
		Store:          st,
		Dispatcher:     dispatcher,
		Handoff:        handoff,
		Metrics:        metrics,
		Logger:         logger,
		Hub:            hub,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
	})

	cleanup := func() error {
		hub.Close()
		if err := st.Close(); err != nil {
			return fmt.Errorf("store close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		Store:      st,
		Handoff:    handoff,
		Telegram:   tg,
		WhatsApp:   wa,
		Dispatcher: dispatcher,
		API:        api,
		Hub:        hub,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}

// StartActiveSessions boots a runtime for every session marked active in
// the store, grouped per platform. Failures are logged per session and do
// not block the rest of the fleet.
func (b *BuildResult) StartActiveSessions(ctx context.Context) error {
	sessions, err := b.Store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	byPlatform := make(map[store.Platform][]store.Session)
	for _, sess := range sessions {
		byPlatform[sess.Platform] = append(byPlatform[sess.Platform], sess)
	}

	for platform, group := range byPlatform {
		mgr, ok := b.Dispatcher.Manager(platform)
		if !ok {
			return fmt.Errorf("no manager for platform %q", platform)
		}
		mgr.StartAll(ctx, group)
	}
	return nil
}

// StopAll shuts every registered runtime down across all platforms.
func (b *BuildResult) StopAll(ctx context.Context) {
	for _, mgr := range b.Dispatcher.Managers() {
		mgr.StopAll(ctx)
	}
}

func automationBaseURL(cfg config.Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	addr := cfg.BindAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
