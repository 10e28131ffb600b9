package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"s3proxy/apigw"
	"s3proxy/auth"
	"s3proxy/backend"
	"s3proxy/fetch"
	"s3proxy/logger"
	"s3proxy/monitoring"
	"s3proxy/replicator"
	"s3proxy/routing"
)

func main() {
	var (
		configPath     = flag.String("config", envOr("CONFIG_PATH", ""), "Configuration file path (JSON or YAML, required)")
		host           = flag.String("host", envOr("HOST", ""), "Bind host (overrides config, default 0.0.0.0)")
		port           = flag.String("port", envOr("PORT", ""), "Bind port (overrides config, default 3000)")
		accessKeyID    = flag.String("access-key", envOr("AWS_ACCESS_KEY_ID", ""), "Incoming access key ID clients must sign with")
		secretKey      = flag.String("secret-key", envOr("AWS_SECRET_ACCESS_KEY", ""), "Incoming secret access key clients must sign with")
		logLevel       = flag.String("log-level", "", "Log level (debug, info, warn, error) (overrides config)")
		metricsAddr    = flag.String("metrics-listen", "", "Metrics server listen address (overrides config)")
		disableMetrics = flag.Bool("disable-metrics", false, "Disable metrics collection (overrides config)")
	)
	flag.Parse()

	if *configPath == "" {
		log.Fatal("configuration file path is required (-config or CONFIG_PATH)")
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	applyCommandLineOverrides(config, *host, *port, *accessKeyID, *secretKey, *logLevel, *metricsAddr, *disableMetrics)

	if err := config.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	level := logger.ParseLogLevel(config.Logging.Level)
	logger.SetGlobalLevel(level)

	logger.Info("S3 Proxy starting...")
	logger.Info("Log level: %s", level.String())

	var monitor *monitoring.Monitor
	if !*disableMetrics && config.Monitoring.Enabled {
		monitor, err = monitoring.New(&config.Monitoring)
		if err != nil {
			log.Fatalf("failed to create monitoring module: %v", err)
		}
		if err := monitor.Start(); err != nil {
			log.Fatalf("failed to start monitoring module: %v", err)
		}
		logger.Info("Monitoring enabled on %s", config.Monitoring.ListenAddress)
	} else {
		logger.Info("Monitoring disabled")
	}

	backendConfig := config.ToBackendConfig()
	backendManager, err := backend.NewManager(&backendConfig)
	if err != nil {
		log.Fatalf("failed to create backend manager: %v", err)
	}
	if err := backendManager.Start(); err != nil {
		log.Fatalf("failed to start backend manager: %v", err)
	}
	logger.Info("Backend manager started with %d backends", len(backendManager.GetAllBackends()))
	for _, b := range backendManager.GetAllBackends() {
		logger.Info("  - %s: %s (bucket: %s)", b.ID, b.Config.Endpoint, b.Config.Bucket)
	}

	authConfig := config.ToAuthConfig()
	authenticator, err := auth.NewAuthenticatorFromConfig(&authConfig)
	if err != nil {
		log.Fatalf("failed to create authenticator: %v", err)
	}

	routingConfig := config.ToRoutingConfig()
	logger.Info("Routing policies configured: put=%s delete=%s get=%s", routingConfig.Policies.Put.Mode, routingConfig.Policies.Delete.Mode, routingConfig.Policies.Get.Mode)

	replicatorInstance := replicator.NewReplicator(backendManager, replicator.DefaultConfig())
	cache := fetch.NewStubCache()
	fetcherInstance := fetch.NewFetcher(backendManager, cache, config.VirtualBucket)

	engine := routing.NewEngine(authenticator, replicatorInstance, fetcherInstance, &routingConfig)

	gatewayConfig := config.ToAPIGatewayConfig()
	gateway := apigw.New(gatewayConfig, engine)

	logger.Info("Configuration:")
	logger.Info("  Listen Address: %s", gatewayConfig.ListenAddress)
	logger.Info("  Virtual Bucket: %s", config.VirtualBucket)
	if gatewayConfig.TLSCertFile != "" {
		logger.Info("  TLS Enabled: Yes")
	} else {
		logger.Info("  TLS Enabled: No")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := gateway.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info("S3 Proxy started successfully")
	if monitor != nil && monitor.IsEnabled() {
		logger.Info("Metrics available at: %s", config.Monitoring.ListenAddress)
	}

	sig := <-sigChan
	logger.Info("Received signal %v, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gateway.Stop(ctx); err != nil {
		logger.Error("Error stopping API Gateway: %v", err)
	}

	if err := backendManager.Stop(); err != nil {
		logger.Error("Error stopping backend manager: %v", err)
	}

	if monitor != nil {
		if err := monitor.Stop(ctx); err != nil {
			logger.Error("Error stopping monitoring: %v", err)
		}
	}

	logger.Info("S3 Proxy stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func applyCommandLineOverrides(config *AppConfig, host, port, accessKeyID, secretKey, logLevel, metricsAddr string, disableMetrics bool) {
	if host != "" {
		config.Server.Host = host
		logger.Debug("Override: host = %s", host)
	}

	if port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			config.Server.Port = n
			logger.Debug("Override: port = %d", n)
		}
	}

	if accessKeyID != "" {
		config.AccessKeyID = accessKeyID
	}

	if secretKey != "" {
		config.SecretAccessKey = secretKey
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
		logger.Debug("Override: logging.level = %s", logLevel)
	}

	if metricsAddr != "" {
		config.Monitoring.ListenAddress = metricsAddr
		logger.Debug("Override: monitoring.listen_address = %s", metricsAddr)
	}

	if disableMetrics {
		config.Monitoring.Enabled = false
		logger.Debug("Override: monitoring.enabled = false")
	}
}
