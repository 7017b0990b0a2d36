// Command teltonika-parser is a multi-vendor fleet-tracking ingestion
// node: it accepts Teltonika AVL TCP connections, decodes and enriches
// their records and publishes them to a broker (or local CSV files),
// correlating outbound commands along the way. See SPEC_FULL.md.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/megatechtrackers/teltonika-parser/applog"
	"github.com/megatechtrackers/teltonika-parser/broker"
	"github.com/megatechtrackers/teltonika-parser/command"
	"github.com/megatechtrackers/teltonika-parser/config"
	"github.com/megatechtrackers/teltonika-parser/csvlog"
	"github.com/megatechtrackers/teltonika-parser/device"
	"github.com/megatechtrackers/teltonika-parser/enrich"
	"github.com/megatechtrackers/teltonika-parser/health"
	"github.com/megatechtrackers/teltonika-parser/listener"
	"github.com/megatechtrackers/teltonika-parser/loadreport"
	"github.com/megatechtrackers/teltonika-parser/mapping"
	"github.com/megatechtrackers/teltonika-parser/session"
)

func main() {
	cfg, err := config.Load(config.FromEnvOrDefaultPath())
	if err != nil {
		log.Printf("FATAL config: %v", err)
		os.Exit(1)
	}

	logger, closeLog := applog.New(cfg.CSVLogDirectory)
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Printf("FATAL %v", err)
		os.Exit(2)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir := device.New()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Printf("WARN database: connecting: %v (mapping cache will degrade to CSV fixture)", err)
	}

	var mappingSource mapping.Source
	if pool != nil {
		mappingSource = mapping.NewStoreLoader(pool)
	} else {
		mappingSource = mapping.NewCSVLoader(cfg.Mapping.CSVFixturePath)
	}

	mappingCache := mapping.New(mappingSource, mapping.Config{
		TTL:            time.Duration(cfg.Mapping.TTLMinutes) * time.Minute,
		InactiveWindow: time.Duration(cfg.Mapping.InactiveCleanupHours) * time.Hour,
		MaxSize:        cfg.Mapping.MaxSize,
		CheckDBChanges: cfg.Mapping.CheckDBChanges,
		CleanupEvery:   time.Duration(cfg.Mapping.CleanupIntervalMinutes) * time.Minute,
	}, logger)

	enricher := enrich.NewEnricher(mappingCache, nil, 0, nil, logger)

	sink, brokerPub, csvLogger, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if csvLogger != nil {
		defer csvLogger.Close()
	}

	var cmdRsp session.CommandResponseHandler
	if pool != nil {
		store := command.NewPGStore(pool)
		correlator := command.New(store, dir, command.Config{
			PollInterval:     time.Duration(cfg.Command.PollIntervalSeconds * float64(time.Second)),
			SweepInterval:    time.Duration(cfg.Command.SweepIntervalSeconds * float64(time.Second)),
			NoReplyThreshold: time.Duration(cfg.Command.NoReplyThresholdSeconds * float64(time.Second)),
			ResponseGrace:    time.Duration(cfg.Command.ResponseGraceSeconds * float64(time.Second)),
		}, logger)
		cmdRsp = correlator
		go correlator.Run(ctx)
	}

	ln := listener.New(cfg.TCPServer, dir, sink, enricher, cmdRsp, logger)

	reg := prometheus.NewRegistry()
	counters := loadreport.NewCounters(reg, "teltonika_parser")
	reporter := loadreport.NewReporter(cfg.NodeID, cfg.Monitor.URL, time.Duration(cfg.Monitor.IntervalSeconds*float64(time.Second)), counters, logger)
	go reporter.Run(ctx)

	var brokerStatus health.BrokerStatus
	if brokerPub != nil {
		brokerStatus = brokerPub
	}
	healthSrv := health.New(brokerStatus, ln, time.Duration(cfg.Health.BrokerDisconnectGraceSecs*float64(time.Second)))
	go healthSrv.ListenAndServe(ctx, cfg.Health.ListenAddr)

	logger.Printf("INFO starting node %s, listening on %s", cfg.NodeID, cfg.TCPServer.ListenAddr)
	err = ln.Serve(ctx)

	// Shutdown sequence (spec §4.9): the listener has already stopped
	// accepting (ctx cancelled -> ln.Serve returned) and every handler
	// has drained; raise the publisher's fast-fail flag so nothing else
	// publishes, then close the DB pool last.
	if brokerPub != nil {
		brokerPub.Shutdown()
		brokerPub.Close()
	}
	if pool != nil {
		pool.Close()
	}

	return err
}

// buildSink wires the publish destination selected by
// cfg.DataTransferMode, returning whichever of brokerPub/csvLogger was
// built (nil otherwise) so the caller can shut it down cleanly.
func buildSink(ctx context.Context, cfg *config.Config, logger *log.Logger) (sink session.Sink, brokerPub *broker.Publisher, csvLogger *csvlog.Logger, err error) {
	switch cfg.DataTransferMode {
	case config.ModeLogs:
		l := csvlog.New(cfg.CSVLogDirectory)
		return session.CSVSink{Logger: l, Vendor: session.Vendor}, nil, l, nil

	default: // config.ModeRabbitMQ
		pub := broker.New(broker.Config{
			URL:               cfg.Broker.URL(),
			Exchange:          cfg.Broker.Exchange,
			PublisherConfirms: cfg.Broker.PublisherConfirms,
			PublishTimeout:    time.Duration(cfg.Broker.PublishTimeoutSeconds * float64(time.Second)),
			ReconnectTimeout:  time.Duration(cfg.Broker.ReconnectTimeoutSeconds * float64(time.Second)),
			StartupBackoffCap: time.Duration(cfg.Broker.StartupBackoffCapSeconds * float64(time.Second)),
			ParserNodeID:      cfg.NodeID,
		}, logger)
		if connectErr := pub.Connect(ctx); connectErr != nil {
			return nil, nil, nil, connectErr
		}
		return session.BrokerSink{Publisher: pub, Vendor: session.Vendor}, pub, nil, nil
	}
}
