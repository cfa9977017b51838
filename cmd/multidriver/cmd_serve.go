package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"multidriver-go/pkg/log"
	"multidriver-go/pkg/metrics"
	"multidriver-go/pkg/multidriver"
	"multidriver-go/pkg/reactor"
	"multidriver-go/pkg/safety"
	"multidriver-go/pkg/status"
)

var serveFlags struct {
	listen        string
	metricsListen string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the group as a service with the JSON-RPC status API",
	Long: "Runs the motor group on the reactor and serves the JSON-RPC API over\n" +
		"HTTP and WebSocket. Prometheus metrics are served when metrics_listen is\n" +
		"set. SIGINT or SIGTERM stops any running move and shuts down.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "status API address (overrides the config file)")
	f.StringVar(&serveFlags.metricsListen, "metrics-listen", "", "metrics address (overrides the config file)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()
	if serveFlags.listen != "" {
		cfg.Server.Listen = serveFlags.listen
	}
	if serveFlags.metricsListen != "" {
		cfg.Server.MetricsListen = serveFlags.metricsListen
	}
	logger := log.GetLogger("serve")

	g, set, err := buildGroup(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gm := metrics.NewGroupMetrics(reg, cfg.Name, set.names)
	g.SetObserver(gm.ObserveTick)
	g.SetMoveObserver(gm)

	r := reactor.New(nil)
	driver := reactor.NewGroupDriver(r, cfg.Name, g, set.names)
	mgr := safety.New()
	mgr.Configure(safety.Config{
		WatchdogTimeout: cfg.Server.WatchdogTimeout.Duration(),
	})
	mgr.RegisterMotors(driver)
	// the heartbeat only arrives while the dispatch goroutine keeps up
	r.RegisterTimer(func(now time.Duration) time.Duration {
		mgr.Heartbeat()
		return now + mgr.HeartbeatPeriod()
	}, reactor.NOW)

	g.Enable()
	r.Run()
	mgr.StartWatchdog()
	defer mgr.StopWatchdog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	api := status.New(status.Config{
		Addr:           cfg.Server.Listen,
		Controller:     driver,
		Safety:         mgr,
		StatusInterval: cfg.Server.StatusInterval.Duration(),
	})
	eg.Go(func() error { return api.Run(ctx) })

	if cfg.Server.MetricsListen != "" {
		ms := metrics.NewServer(reg, metrics.ServerConfig{
			Address:  cfg.Server.MetricsListen,
			Username: cfg.Server.MetricsUser,
			Password: cfg.Server.MetricsPassword,
		})
		eg.Go(func() error { return ms.Run(ctx) })
	}

	logger.WithFields(log.Fields{
		"group":   cfg.Name,
		"motors":  set.names,
		"listen":  cfg.Server.Listen,
		"metrics": cfg.Server.MetricsListen,
	}).Info("serving")

	err = eg.Wait()
	shutdown(driver, r, g)
	logger.Info("stopped")
	return err
}

// shutdown halts any running move, stops the reactor and releases the
// motors.
func shutdown(d *reactor.GroupDriver, r *reactor.Reactor, g *multidriver.Group) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		log.GetLogger("serve").WithError(err).Warn("stop on shutdown")
	}
	r.End()
	r.Wait()
	g.Disable()
}
