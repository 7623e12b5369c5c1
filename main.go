package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	alertapp "hazardwatch/internal/alerts/application"
	alertrepo "hazardwatch/internal/alerts/infrastructure/postgres"
	alerthttp "hazardwatch/internal/alerts/interfaces/http"
	alertnotify "hazardwatch/internal/alerts/notify"
	"hazardwatch/internal/audit"
	"hazardwatch/internal/auth"
	"hazardwatch/internal/config"
	hazardrepo "hazardwatch/internal/hazards/infrastructure/postgres"
	"hazardwatch/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, zap.NewStdLog(logger))
	auditRepo := audit.NewRepository(db)

	hazardData := hazardrepo.NewHazardDataQuery(db)
	ruleRepo := alertrepo.NewRuleRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	cooldownRepo := alertrepo.NewCooldownRepository(db)

	evaluator, err := alertapp.NewEvaluator(hazardData)
	if err != nil {
		logger.Fatal("evaluator error", zap.Error(err))
	}
	tracker, err := alertapp.NewCooldownTracker(cooldownRepo, cfg.CooldownKeying())
	if err != nil {
		logger.Fatal("cooldown tracker error", zap.Error(err))
	}
	composer, err := alertapp.NewComposer(cfg.MessageTemplate)
	if err != nil {
		logger.Fatal("composer error", zap.Error(err))
	}

	broker := alerthttp.NewSSEBroker()
	channels := buildChannels(cfg.Channels, logger)
	notifyTemplate, err := alertnotify.NewTemplate(cfg.Channels.Template)
	if err != nil {
		logger.Fatal("notify template error", zap.Error(err))
	}
	dispatcher, err := alertnotify.NewDispatcher(alertRepo, channels, notifyTemplate, logger,
		alertnotify.WithNotifier(broker),
		alertnotify.WithVerifier(hazardData),
	)
	if err != nil {
		logger.Fatal("dispatcher error", zap.Error(err))
	}
	defer dispatcher.Close()

	engine, err := alertapp.NewEngine(ruleRepo, evaluator, tracker, composer, dispatcher, logger,
		alertapp.WithRuleTimeout(time.Duration(cfg.Engine.RuleTimeoutSeconds)*time.Second),
	)
	if err != nil {
		logger.Fatal("engine error", zap.Error(err))
	}
	if err := engine.Start(cfg.Engine.EvaluateSchedule, cfg.Engine.RefreshSchedule); err != nil {
		logger.Fatal("engine start error", zap.Error(err))
	}
	defer engine.Stop()

	ruleService, err := alertapp.NewRuleService(ruleRepo, nil)
	if err != nil {
		logger.Fatal("rule service error", zap.Error(err))
	}
	alertService, err := alertapp.NewAlertService(alertRepo, dispatcher, nil)
	if err != nil {
		logger.Fatal("alert service error", zap.Error(err))
	}

	rulesHandler, err := alerthttp.NewRulesHandler(ruleService, auditRepo)
	if err != nil {
		logger.Fatal("rules handler error", zap.Error(err))
	}
	alertsHandler, err := alerthttp.NewAlertsHandler(alertService)
	if err != nil {
		logger.Fatal("alerts handler error", zap.Error(err))
	}
	exportHandler, err := alerthttp.NewExportHandler(alertService)
	if err != nil {
		logger.Fatal("export handler error", zap.Error(err))
	}
	statusHandler, err := alerthttp.NewEngineStatusHandler(engine)
	if err != nil {
		logger.Fatal("status handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/rules", rulesHandler)
	mux.Handle("/api/v1/rules/", rulesHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alerts", alertsHandler)
	mux.Handle("/api/v1/alerts/", alertsHandler)
	mux.Handle("/api/v1/exports/alerts.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/alerts.pdf", exportHandler)
	mux.Handle("/api/v1/engine/status", statusHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger),
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func buildChannels(cfg config.ChannelsConfig, logger *zap.Logger) map[string]alertnotify.Channel {
	channels := make(map[string]alertnotify.Channel)
	if cfg.WebhookURL != "" {
		if channel, err := alertnotify.NewWebhookChannel(cfg.WebhookURL); err == nil {
			channels["webhook"] = channel
		}
	}
	if cfg.EmailWebhookURL != "" {
		if channel, err := alertnotify.NewWebhookChannel(cfg.EmailWebhookURL); err == nil {
			channels["email"] = channel
		}
	} else {
		channels["email"] = alertnotify.NewLogChannel("email", logger)
	}
	if cfg.SMSWebhookURL != "" {
		if channel, err := alertnotify.NewWebhookChannel(cfg.SMSWebhookURL); err == nil {
			channels["sms"] = channel
		}
	} else {
		channels["sms"] = alertnotify.NewLogChannel("sms", logger)
	}
	return channels
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
