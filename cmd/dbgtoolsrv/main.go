package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/hrygo/dbgtoolsrv/internal/audit"
	"github.com/hrygo/dbgtoolsrv/internal/classify"
	"github.com/hrygo/dbgtoolsrv/internal/config"
	"github.com/hrygo/dbgtoolsrv/internal/dbgsession"
	"github.com/hrygo/dbgtoolsrv/internal/executor"
	"github.com/hrygo/dbgtoolsrv/internal/grpchealth"
	"github.com/hrygo/dbgtoolsrv/internal/health"
	"github.com/hrygo/dbgtoolsrv/internal/logging"
	"github.com/hrygo/dbgtoolsrv/internal/notify"
	"github.com/hrygo/dbgtoolsrv/internal/notify/telegram"
	"github.com/hrygo/dbgtoolsrv/internal/queue"
	"github.com/hrygo/dbgtoolsrv/internal/recovery"
	"github.com/hrygo/dbgtoolsrv/internal/resultcache"
	"github.com/hrygo/dbgtoolsrv/internal/scriptauth"
	"github.com/hrygo/dbgtoolsrv/internal/telemetry"
	"github.com/hrygo/dbgtoolsrv/internal/timeoutmgr"
	"github.com/hrygo/dbgtoolsrv/internal/toolserver"
	"github.com/hrygo/dbgtoolsrv/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "dbgtoolsrv",
	Short: "Exposes a Windows crash-dump / live-debugging backend as an HTTP tool server.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tool server (default command).",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version.",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.StringFull())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd, auditCmd, scriptCmd)

	serveCmd.Flags().String("mode", "dev", `"dev" or "prod"`)
	serveCmd.Flags().String("addr", "", "bind address")
	serveCmd.Flags().Int("port", 7428, "bind port")
	serveCmd.Flags().String("data", "./data", "data directory (audit db, etc.)")
	serveCmd.Flags().String("debugger-path", "", "explicit path to the debugger executable")
	serveCmd.Flags().String("symbols", "", "default symbol search path")
	serveCmd.Flags().String("audit-db-path", "", "path to the audit database; defaults to <data>/audit.db")
	serveCmd.Flags().Int("grpc-health-port", 0, "if nonzero, also serve grpc.health.v1.Health on this port")
	serveCmd.Flags().Bool("telegram-enable", false, "forward events to Telegram")
	serveCmd.Flags().String("telegram-bot-token", "", "Telegram bot token")
	serveCmd.Flags().Int64("telegram-chat-id", 0, "Telegram destination chat id")
	serveCmd.Flags().String("script-auth-secret", "", "HMAC secret for script-extension callback tokens; empty disables that route")
	serveCmd.Flags().Duration("script-auth-ttl", config.Defaults().ScriptAuthTTL, "default validity duration for minted script callback tokens")

	for _, name := range []string{
		"mode", "addr", "port", "data", "debugger-path", "symbols", "audit-db-path",
		"grpc-health-port", "telegram-enable", "telegram-bot-token", "telegram-chat-id",
		"script-auth-secret", "script-auth-ttl",
	} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("dbgtoolsrv")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func runServe() error {
	cfg := config.Defaults()
	cfg.FromEnv()
	cfg.Mode = viper.GetString("mode")
	cfg.Addr = viper.GetString("addr")
	cfg.Port = viper.GetInt("port")
	cfg.DataDir = viper.GetString("data")
	cfg.DebuggerPath = viper.GetString("debugger-path")
	cfg.SymbolSearchPath = viper.GetString("symbols")
	cfg.TelegramBotToken = viper.GetString("telegram-bot-token")
	cfg.TelegramChatID = viper.GetInt64("telegram-chat-id")
	cfg.ScriptAuthSecret = viper.GetString("script-auth-secret")
	cfg.ScriptAuthTTL = viper.GetDuration("script-auth-ttl")
	cfg.AuditDBPath = viper.GetString("audit-db-path")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.AuditDBPath == "" {
		cfg.AuditDBPath = filepath.Join(cfg.DataDir, "audit.db")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	log := logging.NewTextLogger(level)
	logging.SetDefault(log)

	metrics := telemetry.New(telemetry.DefaultConfig())

	session := dbgsession.New(dbgsession.Options{
		ExecutablePath:   cfg.DebuggerPath,
		SymbolSearchPath: cfg.SymbolSearchPath,
		SymbolTimeoutMS:  cfg.SymbolTimeoutMS,
		SymbolMaxRetries: cfg.SymbolMaxRetries,
		WarmupDelay:      cfg.WarmupDelay,
	}, log)

	timeouts := timeoutmgr.New()
	healthMonitor := health.New(session)

	classifier, err := classify.New(classify.Options{
		DefaultTimeoutSeconds:  cfg.DefaultTimeout.Seconds(),
		ExtendedTimeoutSeconds: cfg.ExtendedTimeout.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	sinks := []notify.Sink{notify.NewSlogSink(log)}
	if viper.GetBool("telegram-enable") {
		tgSink, err := telegram.New(telegram.Config{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		}, log)
		if err != nil {
			log.Warn("telegram sink disabled: failed to initialize", "error", err)
		} else {
			sinks = append(sinks, tgSink)
		}
	}
	fanout := notify.NewFanout(sinks...)
	queueAdapter := notify.NewQueueAdapter(fanout)

	var trail *audit.Trail
	if cfg.AuditEnable {
		trail, err = audit.Open(cfg.AuditDBPath, 256, log)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer trail.Close()
	}

	holder := &dispatcherHolder{}
	recoverer := recovery.New(session, healthMonitor, holder, queueAdapter, recovery.Options{
		MaxAttempts:      cfg.RecoveryMaxAttempts,
		BaseRestartDelay: cfg.RecoveryBaseBackoff,
	}, metrics, log)

	trackedSession := &targetTrackingSession{Session: session, onStart: recoverer.SetTarget}

	exec := executor.New(session, timeouts, classifier, recoverer, log)

	sink := &queueEventSink{notify: queueAdapter.Notify, trail: trail, sessionID: session.ID}
	dispatcher := queue.New(exec, classifier, sink, queue.Options{
		RetentionWindow:   cfg.RetentionWindow,
		RetentionInterval: cfg.RetentionInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		EnqueueRateLimit:  cfg.EnqueueRateLimit,
		EnqueueBurst:      cfg.EnqueueBurst,
	}, metrics, log)
	defer dispatcher.Shutdown()
	holder.bind(dispatcher)
	sink.dispatcher = dispatcher

	cache := resultcache.New(resultcache.Config{
		MaxMemoryBytes:         cfg.CacheMaxMemoryBytes,
		DefaultTTL:             cfg.CacheDefaultTTL,
		CleanupInterval:        cfg.CacheCleanupInterval,
		PressureThreshold:      cfg.CachePressureThreshold,
		MaxEvictPerCycle:       cfg.CacheMaxEvictPerCycle,
		PostCleanupTargetRatio: cfg.CachePostCleanupTarget,
	}, metrics)
	defer cache.Close()

	cachedDispatcher := newCachingDispatcher(dispatcher, cache, session.ID)

	server := toolserver.New(trackedSession, cachedDispatcher, metrics, healthMonitor, log)

	if cfg.ScriptAuthSecret != "" {
		scriptAuth, err := scriptauth.New(cfg.ScriptAuthSecret)
		if err != nil {
			log.Warn("script callback auth disabled: invalid secret", "error", err)
		} else {
			server.Echo().Use(scriptCallbackAuth(scriptAuth))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if port := viper.GetInt("grpc-health-port"); port > 0 {
		pusher := grpchealth.New(healthMonitor, log)
		pusher.Start(ctx)
		defer pusher.Stop()

		grpcServer := grpc.NewServer()
		pusher.Register(grpcServer)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("listen for grpc health: %w", err)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				log.Warn("grpc health server stopped", "error", err)
			}
		}()
		defer grpcServer.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Echo().Start(addr)
	}()

	fmt.Printf("dbgtoolsrv %s listening on %s (mode=%s)\n", version.String(), addr, cfg.Mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals...)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-sigCh:
		log.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Echo().Shutdown(shutdownCtx)
	}

	return nil
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
