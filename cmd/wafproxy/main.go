package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"wafproxy/internal/interface/handler"
	"wafproxy/internal/interface/repository/certs"
	"wafproxy/internal/interface/repository/config"
	"wafproxy/internal/interface/repository/logger"
	"wafproxy/internal/interface/repository/metrics"
	"wafproxy/internal/interface/repository/ratelimit"
	"wafproxy/internal/interface/repository/rules"
	"wafproxy/internal/usecase"

	"wafproxy/internal/domain"
)

const shutdownTimeout = 30 * time.Second

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wafproxy: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "wafproxy",
		Short:         "TLS-terminating reverse proxy with a hot-reloadable WAF rule engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flags.AddFlagSet(pflag.CommandLine)

	return cmd
}

func run(configPath string) error {
	// コンフィグの読み込み
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// ロガーの初期化
	appLog, err := logger.New(
		cfg.Log.Dir, cfg.Log.File, cfg.Log.Level,
		logger.DefaultRotationConfig(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLog.Close()

	// メトリクスの初期化
	collector := metrics.New(nil)

	// ルールストアの初期化（初回コンパイル失敗は起動中止）
	ruleStore, err := rules.New(
		cfg.Rules.Path, cfg.Rules.ReloadInterval, appLog, collector,
	)
	if err != nil {
		return err
	}
	ruleStore.Start()
	defer ruleStore.Stop()

	// 証明書ストアの初期化
	certStore, err := certs.Load(
		cfg.TLS.CertsDir, cfg.TLS.ClientCAFile, cfg.TLS.MTLS, appLog,
	)
	if err != nil {
		return err
	}
	resolver := certs.NewResolver(certStore)

	// 流量制御の初期化
	var limiter domain.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	}

	// 許可判定パイプラインの構築
	admission := usecase.NewAdmissionUseCase(ruleStore, limiter, collector, appLog)

	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return err
	}

	proxyHandler := handler.NewProxyHandler(
		admission, upstream, collector, appLog,
		cfg.Server.BlockStatus, cfg.Rules.MaxBodyScanBytes,
	)
	metricsHandler := handler.NewMetricsHandler(collector, ruleStore, appLog)

	// TLSリスナーの設定
	handshakeLog := log.New(
		&certs.HandshakeErrorWriter{Log: appLog, Metrics: collector}, "", 0,
	)

	httpsServer := &http.Server{
		Addr:      cfg.Server.HTTPSListen,
		Handler:   proxyHandler,
		TLSConfig: resolver.TLSConfig(),
		ErrorLog:  handshakeLog,
	}

	// 平文リスナーの設定
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPListen,
		Handler: proxyHandler,
	}

	// メトリクスサーバーの設定
	metricsServer := &http.Server{
		Addr: cfg.Server.MetricsListen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/metrics":
				metricsHandler.HandleMetrics(w, r)
			case "/stats":
				metricsHandler.HandleStats(w, r)
			case "/health":
				metricsHandler.HandleHealth(w, r)
			default:
				http.NotFound(w, r)
			}
		}),
	}

	// シャットダウンハンドラの設定
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// サーバーの起動
	go func() {
		appLog.WithField("addr", cfg.Server.HTTPSListen).Info("starting https listener")
		if err := httpsServer.ListenAndServeTLS("", ""); err != http.ErrServerClosed {
			appLog.WithError(err).Error("https listener error")
			cancel()
		}
	}()

	go func() {
		appLog.WithField("addr", cfg.Server.HTTPListen).Info("starting http listener")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			appLog.WithError(err).Error("http listener error")
			cancel()
		}
	}()

	go func() {
		appLog.WithField("addr", cfg.Server.MetricsListen).Info("starting metrics listener")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			appLog.WithError(err).Error("metrics listener error")
			cancel()
		}
	}()

	// シグナル待機
	select {
	case sig := <-signalChan:
		appLog.WithField("signal", sig.String()).Info("shutdown signal received")
	case <-ctx.Done():
		appLog.Info("shutdown initiated")
	}

	// グレースフルシャットダウン
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer shutdownCancel()

	for name, srv := range map[string]*http.Server{
		"https":   httpsServer,
		"http":    httpServer,
		"metrics": metricsServer,
	} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.WithError(err).WithField("listener", name).
				Error("error shutting down listener")
		}
	}

	appLog.Info("shutdown complete")
	return nil
}
