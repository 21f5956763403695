package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"ebr/api/grpcserver"
	"ebr/infra/config"
	"ebr/infra/journal"
	"ebr/infra/kafka"
	"ebr/infra/memory"
	"ebr/infra/sequence"
	"ebr/jobs/broadcaster"
	"ebr/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	config   string
	workers  int
	listen   string
	metrics  string
	journal  string
	sink     string
	brokers  string
	topic    string
	duration time.Duration
	logLevel string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "ebr-soak",
		Short:         "Soak-test epoch-based reclamation under a concurrent stack workload",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags(), f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	bindFlags(cmd.Flags(), &f)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVar(&f.config, "config", "", "YAML config file")
	fs.IntVar(&f.workers, "workers", 0, "worker goroutines (overrides soak.workers)")
	fs.StringVar(&f.listen, "listen", "", "gRPC listen address")
	fs.StringVar(&f.metrics, "metrics-listen", "", "Prometheus listen address (empty disables)")
	fs.StringVar(&f.journal, "journal-dir", "", "checkpoint journal directory")
	fs.StringVar(&f.sink, "sink", "", "checkpoint sink: none, sarama or kafka-go")
	fs.StringVar(&f.brokers, "brokers", "", "comma-separated Kafka brokers")
	fs.StringVar(&f.topic, "topic", "", "Kafka topic for checkpoints")
	fs.DurationVar(&f.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
}

// resolveConfig loads the file and applies only the flags that were set.
func resolveConfig(fs *pflag.FlagSet, f flags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return config.Config{}, err
	}
	changed := fs.Changed
	if changed("workers") {
		cfg.Soak.Workers = f.workers
	}
	if changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if changed("metrics-listen") {
		cfg.MetricsAddr = f.metrics
	}
	if changed("journal-dir") {
		cfg.Journal.Dir = f.journal
	}
	if changed("sink") {
		cfg.Broadcaster.Sink = config.Sink(f.sink)
	}
	if changed("brokers") {
		cfg.Broadcaster.Brokers = config.ParseBrokers(f.brokers)
	}
	if changed("topic") {
		cfg.Broadcaster.Topic = f.topic
	}
	if changed("duration") {
		cfg.Duration = f.duration
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newSink(cfg config.BroadcasterConfig) (broadcaster.Sink, error) {
	switch cfg.Sink {
	case config.SinkSarama:
		return broadcaster.NewSaramaSink(cfg.Brokers, cfg.Topic)
	case config.SinkKafkaGo:
		return kafka.NewProducer(kafka.Config{Brokers: cfg.Brokers, Topic: cfg.Topic})
	default:
		return broadcaster.Discard(), nil
	}
}

func run(ctx context.Context, cfg config.Config) (err error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// ---------------- Collector ----------------

	collector := memory.NewCollector(memory.Config{
		Name:                   cfg.Collector.Name,
		PinningsBetweenCollect: cfg.Collector.PinningsBetweenCollect,
		Logger:                 logger,
		Metrics:                memory.NewMetrics(reg, cfg.Collector.Name),
	})
	defer collector.Release()

	// ---------------- Journal ----------------

	var j *journal.Journal
	if cfg.Journal.Dir != "" {
		if j, err = journal.Open(cfg.Journal.Dir); err != nil {
			return err
		}
		defer func() { err = errors.CombineErrors(err, j.Close()) }()
	}

	seq := sequence.New(0)
	if j != nil {
		if seq, err = sequence.Resume(j); err != nil {
			return err
		}
	}

	// ---------------- Service ----------------

	svc := service.New(collector, j, seq, service.Config{
		Workers:            cfg.Soak.Workers,
		OpsPerPin:          cfg.Soak.OpsPerPin,
		AdvanceInterval:    cfg.Soak.AdvanceInterval,
		CheckpointInterval: cfg.Soak.CheckpointInterval,
		Logger:             logger,
	})
	defer svc.Close()

	// ---------------- Broadcaster ----------------

	var bc *broadcaster.Broadcaster
	if j != nil {
		sink, err := newSink(cfg.Broadcaster)
		if err != nil {
			return err
		}
		bc = broadcaster.New(j, sink, cfg.Broadcaster.Interval,
			broadcaster.WithMaxRetries(cfg.Broadcaster.MaxRetries),
			broadcaster.WithLogger(logger),
		)
		defer func() { _ = bc.Close() }()
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.ListenAddr)
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(logger)))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc))

	// ---------------- Run ----------------

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	if bc != nil {
		g.Go(func() error { return bc.Run(ctx) })
	}
	g.Go(func() error {
		logger.Info("gRPC listening", zap.String("addr", lis.Addr().String()))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	// ---------------- Prometheus ----------------

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	st := svc.Stats()
	logger.Info("soak finished",
		zap.Uint64("epoch_advances", st.EpochAdvances),
		zap.Uint64("deferred_run", st.DeferredRun),
		zap.Uint64("violations", st.Violations),
	)
	if err == nil && st.Violations > 0 {
		err = errors.Newf("%d buffers were recycled while still reachable", st.Violations)
	}
	return err
}
