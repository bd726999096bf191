// Command logcored is the daemon entrypoint (module 15): it loads a
// pipeline configuration, builds a Runtime, wires Source and Destination
// pipes into a pipeline.Pipeline, and runs until a shutdown signal
// arrives, in the style of the teacher's cmd/main.go + internal/app.App.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"logcore/internal/config"
	"logcore/internal/destination"
	"logcore/internal/runtime"
	"logcore/internal/source"
	"logcore/pkg/logmsg"
	"logcore/pkg/logproto"
	"logcore/pkg/pipeline"
	"logcore/pkg/queue"
)

const defaultConfigFile = "/etc/logcored/config.yaml"

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	configFile = config.ConfigFileFromEnv(configFile, defaultConfigFile)

	if err := run(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "logcored: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	logger.WithField("config_file", configFile).Info("logcored starting")

	rt, err := runtime.New(runtime.Config{
		PersistPath:     cfg.Persist.Path,
		DNSCacheOptions: cfg.DNSCache.ToOptions(),
		DNSNameservers:  cfg.DNSCache.Nameservers,
		DNSTimeout:      cfg.DNSCache.Timeout,
		ShutdownTimeout: cfg.Shutdown.Timeout,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}

	configFor, err := wirePipeline(cfg, rt, logger)
	if err != nil {
		return fmt.Errorf("wiring pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
		cancel()
	}()

	return rt.Run(ctx, configFor)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	return logger
}

// wirePipeline builds one Source and one Destination pipe per configured
// entry, registers them with the pipeline arena and the runtime's task
// set, and returns the configFor closure pipeline.Pipeline.Init needs.
func wirePipeline(cfg *config.Config, rt *runtime.Runtime, logger *logrus.Logger) (func(pipeline.ID) interface{}, error) {
	pipeConfigs := make(map[pipeline.ID]interface{})

	destByName := make(map[string]pipeline.Pipe)
	destIDByName := make(map[string]pipeline.ID)

	for _, dc := range cfg.Destinations {
		dest := &destination.Destination{}
		q, err := buildQueue(dc, rt)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", dc.Name, err)
		}

		id := rt.Pipeline.Add(dest)
		pipeConfigs[id] = &destination.Config{
			Name:           dc.Name,
			Transport:      newStdoutTransport(),
			Formatter:      destination.RawMessageFormatter{},
			Queue:          q,
			Backoff:        dc.Backoff,
			Breaker:        dc.Breaker,
			MaxRetryWindow: dc.MaxRetryWindow,
			Logger:         logger,
		}

		destByName[dc.Name] = dest
		destIDByName[dc.Name] = id
		rt.AddDestination(dc.Name, dest)
	}

	for _, sc := range cfg.Sources {
		downstream, err := fanOutFor(sc, destByName)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}

		receipts, err := rt.ReceiptAllocator(sc.Name)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}

		src := &source.Source{}
		id := rt.Pipeline.Add(src)
		pipeConfigs[id] = &source.Config{
			Name:       sc.Name,
			Transport:  stdinTransport{f: os.Stdin},
			Downstream: downstream,
			WindowSize: sc.WindowSize,
			Framed:     logproto.Options{MaxMsgSize: sc.MaxMsgSize},
			ProxyMode:  sc.ProxyMode,
			AckNeeded:  sc.AckNeeded,
			TagTable:   rt.Tags,
			Receipts:   receipts,
			Logger:     logger,
		}

		for _, dn := range sc.Destinations {
			rt.Pipeline.Connect(id, destIDByName[dn])
		}
		rt.AddSource(sc.Name, src)
	}

	return func(id pipeline.ID) interface{} { return pipeConfigs[id] }, nil
}

// fanOutFor resolves a source's configured destination names to a single
// downstream Pipe: the destination directly when there is exactly one,
// or a Multiplexer fanning the ack out to all of them otherwise.
func fanOutFor(sc config.SourceConfig, destByName map[string]pipeline.Pipe) (pipeline.Pipe, error) {
	if len(sc.Destinations) == 1 {
		d, ok := destByName[sc.Destinations[0]]
		if !ok {
			return nil, fmt.Errorf("unknown destination %q", sc.Destinations[0])
		}
		return d, nil
	}

	mux := pipeline.NewMultiplexer(sc.Name)
	for _, dn := range sc.Destinations {
		d, ok := destByName[dn]
		if !ok {
			return nil, fmt.Errorf("unknown destination %q", dn)
		}
		mux.AddBranch(pipeline.Branch{Pipe: d, Opts: logmsg.PathOptions{AckNeeded: sc.AckNeeded}, Mutates: false})
	}
	return mux, nil
}

func buildQueue(dc config.DestinationConfig, rt *runtime.Runtime) (queue.Queue, error) {
	if !dc.Persisted {
		return queue.NewMemoryQueue(dc.QueueCapacity), nil
	}
	return queue.NewPersisted(dc.Name, dc.QueueCapacity, rt.Persist, destination.GobCodec{})
}
