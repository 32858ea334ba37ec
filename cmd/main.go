package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cr0ssing/iota-local-gtta/config"
	"github.com/cr0ssing/iota-local-gtta/dag"
	"github.com/cr0ssing/iota-local-gtta/db"
	"github.com/cr0ssing/iota-local-gtta/feed"
	"github.com/cr0ssing/iota-local-gtta/handlers"
	"github.com/cr0ssing/iota-local-gtta/ingest"
	"github.com/cr0ssing/iota-local-gtta/logger"
	"github.com/cr0ssing/iota-local-gtta/metrics"
	"github.com/cr0ssing/iota-local-gtta/oracle"
	"github.com/cr0ssing/iota-local-gtta/repository"
	"github.com/cr0ssing/iota-local-gtta/routers"
	"github.com/cr0ssing/iota-local-gtta/tipselection"
)

func main() {
	configPath := pflag.String("config", "config/config.yaml", "path to the config file")
	pflag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Logger.Sync()

	if err := run(cfg); err != nil {
		logger.Logger.Fatal("Service failed", zap.Error(err))
	}
}

func newFeed(ctx context.Context, cfg config.FeedConfig, registerer prometheus.Registerer, namespace string) (ingest.Feed, io.Closer, error) {
	switch cfg.Type {
	case config.FeedZMQ:
		z, err := feed.NewZMQ(ctx, cfg.ZMQEndpoint)
		return z, z, err
	case config.FeedKafka:
		k, err := feed.NewKafka(feed.KafkaConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			MetricsNamespace: namespace,
		}, registerer)
		return k, k, err
	case config.FeedFile:
		if cfg.File == "-" {
			return feed.NewReader(os.Stdin, cfg.FileBatchSize), io.NopCloser(os.Stdin), nil
		}
		f, err := os.Open(cfg.File)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening feed file")
		}
		return feed.NewReader(f, cfg.FileBatchSize), f, nil
	default:
		return nil, nil, errors.Errorf("unknown feed type %q", cfg.Type)
	}
}

func run(cfg *config.Config) error {
	logger.Logger.Info("Starting local tip selection...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		return err
	}
	defer ldb.Close()

	var checkpoints repository.CheckpointRepositoryInterface = repository.NewCheckpointRepository(ldb, cfg.LevelDB.Keep)
	if cp, err := checkpoints.GetLatestCheckpoint(); err != nil {
		logger.Logger.Warn("Failed to read last checkpoint", zap.Error(err))
	} else if cp != nil {
		logger.Logger.Info("Last run stopped at milestone",
			zap.Int("milestone", cp.Milestone),
			zap.Int("available_depth", cp.AvailableDepth),
			zap.Int("transactions", cp.Transactions))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, registry)

	tangle := dag.NewTangle()
	node := oracle.NewNodeClient(cfg.Node.URL, cfg.Node.Timeout)
	checker := oracle.NewChecker(node, cfg.TipSelection.CacheTTL, m)
	defer checker.Close()
	selector := tipselection.NewSelector(tangle, checker, m, tipselection.WithAlpha(cfg.TipSelection.Alpha))

	source, sourceCloser, err := newFeed(ctx, cfg.Feed, registry, cfg.Metrics.Namespace)
	if err != nil {
		return errors.Wrap(err, "creating feed")
	}
	defer sourceCloser.Close()

	processor := ingest.NewProcessor(source, tangle, checker, checkpoints, m, ingest.Retention{
		MarkDepth:   cfg.Tangle.MarkDepth,
		DeleteDepth: cfg.Tangle.DeleteDepth,
	})
	ingestErr := make(chan error, 1)
	go func() {
		ingestErr <- processor.Run(ctx)
	}()

	var remote handlers.RemoteSelector
	if cfg.Node.RemoteFallback {
		remote = node
	}
	h := handlers.NewHandler(selector, remote, tangle, checkpoints, cfg.Server.RequestTimeout)

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h, registry)

	// HTTP Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Logger.Info("Shutdown signal received, exiting...")
	case err := <-ingestErr:
		if err != nil {
			runErr = errors.Wrap(err, "ingest")
		} else {
			logger.Logger.Info("Ingest finished, serving the last state until shutdown")
			<-ctx.Done()
		}
	case err := <-serverErr:
		runErr = errors.Wrap(err, "http server")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warn("Server shutdown", zap.Error(err))
	}
	return runErr
}
