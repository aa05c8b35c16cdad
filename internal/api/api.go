// Package api wires GateChat's modules together and serves the admin HTTP API.
//
// Run owns the process lifecycle: it takes the state directory lock, opens the
// profile store, loads the texts file, starts the chat transport and the
// inbound router, schedules session pruning, and serves the admin API until
// SIGINT or SIGTERM.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/GateChat/internal/config"
	"github.com/BTreeMap/GateChat/internal/flow"
	"github.com/BTreeMap/GateChat/internal/genai"
	"github.com/BTreeMap/GateChat/internal/lockfile"
	"github.com/BTreeMap/GateChat/internal/messaging"
	"github.com/BTreeMap/GateChat/internal/scheduler"
	"github.com/BTreeMap/GateChat/internal/store"
	"github.com/BTreeMap/GateChat/internal/telegram"
	"github.com/BTreeMap/GateChat/internal/twiliowhatsapp"
	"github.com/BTreeMap/GateChat/internal/whatsapp"
)

const (
	// TransportTelegram selects the Telegram Bot API transport.
	TransportTelegram = "telegram"
	// TransportWhatsApp selects the whatsmeow transport.
	TransportWhatsApp = "whatsapp"

	// DefaultStateDir is the default directory for GateChat state data.
	DefaultStateDir = "/var/lib/gatechat"
	// DefaultTextsFileName is the texts file looked up in the state directory.
	DefaultTextsFileName = "bot_config.yaml"
	// DefaultSessionIdleTTL is how long an untouched session is kept.
	DefaultSessionIdleTTL = 24 * time.Hour

	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the application.
type Opts struct {
	Addr           string        // admin API listen address; empty disables the API
	Token          string        // admin API bearer token; empty disables auth
	StateDir       string        // locked for the process lifetime
	TextsPath      string        // YAML texts file
	Transport      string        // TransportTelegram or TransportWhatsApp
	SessionIdleTTL time.Duration // 0 disables pruning
	PruneSchedule  string        // cron expression for the pruning job
	AdminWhatsApp  string        // Twilio admin destination; empty uses the chat transport
}

// Option defines a configuration option for the application.
type Option func(*Opts)

// WithAddr sets the admin API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithToken sets the admin API bearer token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithStateDir sets the state directory.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// WithTextsPath sets the texts file path.
func WithTextsPath(path string) Option {
	return func(o *Opts) {
		o.TextsPath = path
	}
}

// WithTransport selects the chat transport.
func WithTransport(name string) Option {
	return func(o *Opts) {
		o.Transport = name
	}
}

// WithSessionIdleTTL sets the idle session lifetime.
func WithSessionIdleTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.SessionIdleTTL = ttl
	}
}

// WithPruneSchedule sets the cron expression for session pruning.
func WithPruneSchedule(expr string) Option {
	return func(o *Opts) {
		o.PruneSchedule = expr
	}
}

// WithAdminWhatsApp routes registration notices to number via Twilio.
func WithAdminWhatsApp(number string) Option {
	return func(o *Opts) {
		o.AdminWhatsApp = number
	}
}

func newOpts(opts []Option) Opts {
	cfg := Opts{
		StateDir:       DefaultStateDir,
		Transport:      TransportTelegram,
		SessionIdleTTL: DefaultSessionIdleTTL,
		PruneSchedule:  scheduler.DefaultPruneSchedule,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TextsPath == "" {
		cfg.TextsPath = filepath.Join(cfg.StateDir, DefaultTextsFileName)
	}
	return cfg
}

// Modules groups the per-module option lists passed to Run.
type Modules struct {
	Telegram []telegram.Option
	WhatsApp []whatsapp.Option
	Store    []store.Option
	GenAI    []genai.Option
	Twilio   []twiliowhatsapp.Option
}

// Run starts GateChat and blocks until a shutdown signal arrives.
func Run(mods Modules, apiOpts ...Option) error {
	cfg := newOpts(apiOpts)
	slog.Debug("api.Run: configuration", "transport", cfg.Transport, "state_dir", cfg.StateDir,
		"texts_path", cfg.TextsPath, "api_addr", cfg.Addr, "session_idle_ttl", cfg.SessionIdleTTL)

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	texts, err := config.Load(cfg.TextsPath)
	if err != nil {
		return fmt.Errorf("failed to load texts: %w", err)
	}

	st, err := store.Open(mods.Store...)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: failed to close store", "error", err)
		}
	}()

	gaClient, err := genai.NewClient(mods.GenAI...)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newTransport(ctx, cfg.Transport, mods)
	if err != nil {
		return err
	}

	sessions := flow.NewSessionStore()
	manager := flow.NewSessionManager(sessions, gaClient, texts)
	notifier := messaging.NewNotifier(svc)
	admin, err := newAdminNotifier(cfg, mods.Twilio, notifier, texts)
	if err != nil {
		return err
	}
	dispatcher := flow.NewDispatcher(st, manager, notifier, texts, admin)

	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("failed to start %s transport: %w", svc.Name(), err)
	}
	router := messaging.NewRouter(dispatcher, st)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		router.Run(ctx, svc.Events())
	}()

	sched := scheduler.NewScheduler()
	if err := sched.SchedulePrune(cfg.PruneSchedule, sessions, cfg.SessionIdleTTL); err != nil {
		sched.Stop()
		svc.Stop()
		return err
	}

	var srv *http.Server
	if cfg.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewServer(manager, st, texts, cfg.Token, svc.Name()).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			slog.Info("api.Run: admin API listening", "addr", cfg.Addr, "auth", cfg.Token != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("api.Run: admin API failed", "error", err)
				stop()
			}
		}()
	} else {
		slog.Info("api.Run: admin API disabled")
	}

	slog.Info("GateChat running", "transport", svc.Name())
	<-ctx.Done()
	slog.Info("api.Run: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("api.Run: admin API forced to shut down", "error", err)
		}
	}
	sched.Stop()
	if err := svc.Stop(); err != nil {
		slog.Error("api.Run: failed to stop transport", "error", err)
	}
	select {
	case <-routerDone:
	case <-shutdownCtx.Done():
		slog.Warn("api.Run: in-flight events did not finish before shutdown timeout")
	}
	return nil
}

// newTransport builds the configured chat transport.
func newTransport(ctx context.Context, name string, mods Modules) (messaging.Service, error) {
	switch name {
	case TransportTelegram:
		client, err := telegram.NewClient(mods.Telegram...)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		return messaging.NewTelegramService(client), nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, mods.WhatsApp...)
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", name, TransportTelegram, TransportWhatsApp)
	}
}

// newAdminNotifier picks Twilio when an admin WhatsApp number is configured,
// otherwise the admin chat on the user-facing transport.
func newAdminNotifier(cfg Opts, twOpts []twiliowhatsapp.Option, sender flow.Sender, dest messaging.AdminDestination) (flow.AdminNotifier, error) {
	if cfg.AdminWhatsApp == "" {
		return messaging.NewChatAdminNotifier(sender, dest), nil
	}
	client, err := twiliowhatsapp.NewClient(twOpts...)
	if err != nil {
		return nil, fmt.Errorf("admin WhatsApp number set but Twilio is not configured: %w", err)
	}
	slog.Info("api.Run: registration notices go to WhatsApp via Twilio")
	return messaging.NewTwilioAdminNotifier(client, cfg.AdminWhatsApp), nil
}
