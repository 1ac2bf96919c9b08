// meshbridge forwards temperature readings from an RF24 sensor mesh to an
// MQTT broker.
//
// The process acts as mesh master (node 0). Each reading received from a
// sensor node is published once to Sensor/temp/<nodeID>. The bridge runs
// until its publish budget is spent, the MQTT session fails for good, or
// it receives SIGINT/SIGTERM.
//
// Exit status is 0 on a clean stop, 2 for usage or configuration errors,
// and the session error code (3-8) when the MQTT session fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/aaronjense/pi-iotAWS-rf24Mesh/migrations"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/bridges/mesh"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/config"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/database"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/influxdb"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/logging"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/metrics"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// gatewayDialTimeout bounds the initial connection to the radio gateway.
	gatewayDialTimeout = 10 * time.Second

	// summaryTimeout bounds the node queries of the shutdown summary.
	summaryTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - args: Command-line arguments without the program name
//   - stdout: Destination for --version output
//
// Returns:
//   - error: nil on a clean stop, or the failure that ended the bridge
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.help {
		return nil
	}
	if opts.version {
		fmt.Fprintf(stdout, "meshbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return usageError{fmt.Errorf("loading config: %w", err)}
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting meshbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	bc, err := newBridgeContext(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer bc.close()

	outcome, err := bc.loop.Run(ctx)
	log.Info("bridge stopped",
		"reason", outcome.Reason.String(),
		"state", outcome.State.String(),
		"published", outcome.Published,
		"rejected", outcome.Rejected,
	)
	return err
}

// bridgeContext owns every resource the bridge loop runs against.
type bridgeContext struct {
	log       *logging.Logger
	addresses *mesh.AddressTable
	gateway   *mesh.GatewayClient
	ingest    *mesh.Ingest
	db        *database.DB
	recorder  *mesh.NodeRecorder
	session   *mqtt.Session
	archive   *influxdb.Client
	budget    mesh.PublishBudget
	loop      *mesh.Loop

	stopMetrics context.CancelFunc
	metricsDone chan struct{}
}

// newBridgeContext connects the mesh gateway, the optional stores and the
// MQTT session, then builds the loop. Anything opened before a failure is
// closed again.
func newBridgeContext(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *bridgeContext, err error) {
	bc := &bridgeContext{log: log}
	defer func() {
		if err != nil {
			bc.close()
		}
	}()

	if err := bc.openMesh(ctx, cfg); err != nil {
		return nil, err
	}
	if err := bc.openSession(cfg); err != nil {
		return nil, err
	}
	if err := bc.openArchive(cfg); err != nil {
		return nil, err
	}

	// An explicit zero in the config file means no pacing.
	pacing := cfg.Bridge.PacingDelay
	if pacing == 0 {
		pacing = -1
	}

	loopOpts := mesh.LoopOptions{
		Source:       bc.ingest,
		Session:      bc.session,
		YieldTimeout: cfg.Bridge.YieldTimeout,
		PacingDelay:  pacing,
		QoS:          byte(cfg.MQTT.QoS),
		Logger:       log.Component("bridge"),
	}
	bc.budget = mesh.BudgetFromCount(cfg.Bridge.PublishCount)
	loopOpts.Budget = &bc.budget
	if bc.archive != nil {
		loopOpts.Archive = bc.archive
	}
	if cfg.Metrics.Enabled {
		collector, err := bc.startMetrics(ctx, cfg.Metrics)
		if err != nil {
			return nil, err
		}
		loopOpts.Metrics = collector
	}

	bc.loop, err = mesh.NewLoop(loopOpts)
	if err != nil {
		return nil, err
	}
	log.Info("bridge ready", "publish_budget", bc.budget.String())
	return bc, nil
}

func (bc *bridgeContext) openMesh(ctx context.Context, cfg *config.Config) error {
	dialCtx, cancel := context.WithTimeout(ctx, gatewayDialTimeout)
	defer cancel()

	bc.addresses = mesh.NewAddressTable(cfg.Mesh.AddressLease)
	gw, err := mesh.DialGateway(dialCtx, mesh.GatewayConfig{
		Connection:  cfg.Mesh.Gateway,
		PollTimeout: cfg.Mesh.PollTimeout,
		Addresses:   bc.addresses,
	})
	if err != nil {
		return fmt.Errorf("connecting to mesh gateway: %w", err)
	}
	gw.SetLogger(bc.log.Component("gateway"))
	bc.gateway = gw
	bc.log.Info("mesh gateway connected", "gateway", cfg.Mesh.Gateway)

	ingestOpts := mesh.IngestOptions{
		Network:    gw,
		SensorType: cfg.Mesh.SensorType(),
		Logger:     bc.log.Component("mesh"),
	}

	if cfg.Database.Enabled {
		if err := bc.openDatabase(ctx, cfg.Database); err != nil {
			return err
		}
		ingestOpts.Recorder = bc.recorder
	} else {
		bc.log.Info("node database disabled")
	}

	bc.ingest, err = mesh.NewIngest(ingestOpts)
	return err
}

func (bc *bridgeContext) openDatabase(ctx context.Context, cfg config.DatabaseConfig) error {
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	bc.db = db

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	recorder := mesh.NewNodeRecorder(db.DB)
	recorder.SetLogger(bc.log.Component("nodes"))
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("starting node recorder: %w", err)
	}
	bc.recorder = recorder
	bc.log.Info("node database ready", "path", db.Path())
	return nil
}

func (bc *bridgeContext) openSession(cfg *config.Config) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	session, err := mqtt.Connect(cfg.MQTT, cfg.MQTT.CertificatePaths(wd))
	if err != nil {
		return err
	}
	bc.session = session
	session.SetLogger(bc.log.Component("mqtt"))
	bc.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", session.ClientID(),
		"auto_reconnect", session.AutoReconnectEnabled(),
	)

	if err := session.Subscribe(mesh.SubscribePattern(), byte(cfg.MQTT.QoS), mesh.InboundLogger(bc.log.Component("mqtt"))); err != nil {
		return err
	}
	bc.log.Debug("MQTT subscriptions active", "count", session.SubscriptionCount())
	return nil
}

func (bc *bridgeContext) openArchive(cfg *config.Config) error {
	if !cfg.InfluxDB.Enabled {
		bc.log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		bc.log.Error("InfluxDB write error", "error", err)
	})
	bc.archive = client
	bc.log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return nil
}

func (bc *bridgeContext) startMetrics(ctx context.Context, cfg config.MetricsConfig) (*metrics.Collector, error) {
	collector := metrics.NewCollector(version)
	srv, err := metrics.Listen(cfg, collector)
	if err != nil {
		return nil, err
	}
	srv.AddCheck("mesh", bc.gateway)
	srv.AddCheck("mqtt", bc.session)
	if bc.db != nil {
		srv.AddCheck("database", bc.db)
	}
	if bc.archive != nil {
		srv.AddCheck("influxdb", bc.archive)
	}

	srvCtx, stop := context.WithCancel(ctx)
	bc.stopMetrics = stop
	bc.metricsDone = make(chan struct{})
	go func() {
		defer close(bc.metricsDone)
		if err := srv.Serve(srvCtx); err != nil {
			bc.log.Error("metrics server failed", "error", err)
		}
	}()

	bc.log.Info("metrics endpoint listening", "addr", srv.Addr(), "path", cfg.Path, "health", "/healthz")
	return collector, nil
}

// close releases resources in reverse order of acquisition.
func (bc *bridgeContext) close() {
	if bc.stopMetrics != nil {
		bc.stopMetrics()
		<-bc.metricsDone
	}
	if bc.archive != nil {
		bc.log.Info("closing InfluxDB connection", "written", bc.archive.Written())
		if err := bc.archive.Close(); err != nil {
			bc.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if bc.session != nil {
		bc.log.Info("disconnecting from MQTT")
		if err := bc.session.Close(); err != nil {
			bc.log.Error("error closing MQTT", "error", err)
		}
	}
	if bc.ingest != nil {
		stats := bc.ingest.Stats()
		bc.log.Info("mesh ingest stopped",
			"decoded", stats.FramesDecoded,
			"rejected", stats.FramesRejected,
			"transport_errors", stats.TransportErrors,
		)
		if err := bc.ingest.Close(); err != nil {
			bc.log.Error("error closing mesh", "error", err)
		}
	} else if bc.gateway != nil {
		if err := bc.gateway.Close(); err != nil {
			bc.log.Error("error closing mesh gateway", "error", err)
		}
	}
	if bc.addresses != nil {
		bc.log.Info("mesh addresses assigned", "count", bc.addresses.Len())
	}
	if bc.recorder != nil {
		bc.recorder.Stop()
		bc.logNodeSummary()
	}
	if bc.db != nil {
		bc.log.Info("closing database")
		if err := bc.db.Close(); err != nil {
			bc.log.Error("error closing database", "error", err)
		}
	}
}

// logNodeSummary reports what the node database learned during the run.
func (bc *bridgeContext) logNodeSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	count, err := bc.recorder.NodeCount(ctx)
	if err != nil {
		bc.log.Error("counting mesh nodes", "error", err)
		return
	}
	bc.log.Info("mesh nodes known", "count", count)

	nodes, err := bc.recorder.Nodes(ctx)
	if err != nil {
		bc.log.Error("listing mesh nodes", "error", err)
		return
	}
	for _, n := range nodes {
		attrs := []any{
			"address", n.Address.String(),
			"frames", n.Frames,
			"rejected", n.Rejected,
			"last_seen", n.LastSeen.Format(time.RFC3339),
		}
		if n.NodeID != nil {
			attrs = append(attrs, "node_id", *n.NodeID)
		}
		if n.LastTemperature != nil {
			attrs = append(attrs, "last_temperature", *n.LastTemperature)
		}
		bc.log.Debug("mesh node", attrs...)
	}
}
