package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccgauge/ccgauge/internal/clock"
	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/mock"
	"github.com/ccgauge/ccgauge/internal/monitor"
	"github.com/ccgauge/ccgauge/internal/session"
	"github.com/ccgauge/ccgauge/internal/usage"
	"github.com/ccgauge/ccgauge/internal/ws"
)

var (
	servePort   int
	serveNoPoll bool
	serveMaxWS  int
	serveMock   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor, usage poller and websocket server",
	Long: `Run the session monitor and usage poller and publish their state.

Send SIGHUP to reload usage and privacy settings from the config file.

Examples:
  ccgauge serve
  ccgauge serve --port 9000 --no-usage
  ccgauge serve --mock --no-usage`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override server port")
	serveCmd.Flags().BoolVar(&serveNoPoll, "no-usage", false, "Disable usage polling")
	serveCmd.Flags().IntVar(&serveMaxWS, "max-clients", 16, "Maximum websocket clients (0 for unlimited)")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Follow a generated demo session instead of the real state directory")
}

func privacyFilter(cfg *config.Config) *session.PrivacyFilter {
	p := cfg.Privacy
	return &session.PrivacyFilter{
		MaskWorkingDirs: p.MaskWorkingDirs,
		MaskSessionIDs:  p.MaskSessionIDs,
		MaskMessages:    p.MaskMessages,
		AllowedPaths:    p.AllowedPaths,
		BlockedPaths:    p.BlockedPaths,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveMock {
		dir, err := os.MkdirTemp("", "ccgauge-mock-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		cfg.Monitor.ClaudeDir = dir
		gen := mock.NewGenerator(dir, 500*time.Millisecond, time.Now().UnixNano())
		if err := gen.Start(ctx); err != nil {
			return err
		}
		log.Println("Starting in mock mode")
	}

	store := session.NewStore()
	mon := monitor.NewMonitor(cfg, store, monitor.ProcessLiveness{}, monitor.FSWatcher{}, clock.Real{})

	var poller *usage.Poller
	var usageSrc ws.UsageSource
	var usageCtl ws.UsageController
	if !serveNoPoll {
		secretStore, err := openSecrets(cfg)
		if err != nil {
			return err
		}
		poller = usage.NewPoller(cfg.Usage, secretStore, clock.Real{}, usage.LogNotifier{})
		defer poller.Close()
		usageSrc, usageCtl = poller, poller
	}

	broadcaster := ws.NewBroadcaster(store, usageSrc, cfg.Monitor.BroadcastThrottle, cfg.Monitor.SnapshotInterval, serveMaxWS)
	defer broadcaster.Stop()
	broadcaster.SetPrivacyFilter(privacyFilter(cfg))
	unsubscribe := store.Subscribe(broadcaster.HandleEvent)
	defer unsubscribe()

	if poller != nil {
		unsubscribeUsage := poller.Subscribe(broadcaster.PublishUsage)
		defer unsubscribeUsage()
		poller.StartPolling()
	}

	server := ws.NewServer(cfg, store, broadcaster, mon, usageCtl)
	log.Printf("Monitoring %s", cfg.Monitor.ClaudeDir)
	err = runServices(ctx,
		func(ctx context.Context) error {
			return ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, server.Handler())
		},
		mon.Run,
		func(ctx context.Context) { watchReload(ctx, cfg, poller, broadcaster) },
	)
	log.Println("Shutting down...")
	return err
}

// runServices starts each background service, serves until serve returns,
// then cancels the services and waits for them. The monitor's final state
// publish therefore lands before the broadcaster and subscriptions are torn
// down.
func runServices(ctx context.Context, serve func(context.Context) error, services ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc(ctx)
		}()
	}

	err := serve(ctx)
	cancel()
	wg.Wait()
	return err
}

// watchReload applies the restart-free settings on SIGHUP.
func watchReload(ctx context.Context, current *config.Config, poller *usage.Poller, b *ws.Broadcaster) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := config.Load(configPath)
		if err != nil {
			log.Printf("[config] reload failed, keeping current settings: %v", err)
			continue
		}
		changes := config.Diff(current, next)
		if len(changes) == 0 {
			log.Printf("[config] reload: no changes")
			continue
		}
		for _, c := range changes {
			log.Printf("[config] %s", c)
		}
		if poller != nil {
			poller.Reconfigure(next.Usage)
		}
		b.SetPrivacyFilter(privacyFilter(next))
		current = next
	}
}
