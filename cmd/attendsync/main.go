package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"attendsync/internal/backend"
	"attendsync/internal/camera"
	"attendsync/internal/config"
	"attendsync/internal/crypto"
	"attendsync/internal/device"
	"attendsync/internal/metrics"
	"attendsync/internal/notifier"
	"attendsync/internal/scheduler"
	"attendsync/internal/server"
	"attendsync/internal/store"
	"attendsync/internal/view"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("token encryption key: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	} else {
		log.Println("TOKEN_ENCRYPTION_KEY not set, session codes are stored in plain text")
	}

	s, err := store.New(cfg.DBPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(cfg.MigrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	client, err := backend.New(cfg.BackendURL,
		backend.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.Burst),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
	)
	if err != nil {
		log.Fatalf("backend client: %v", err)
	}

	m := metrics.New()
	cam := camera.New(device.NewFeedDevice(client), client,
		camera.WithSettleDelay(cfg.Camera.SettleDelay),
		camera.WithReleaseTimeout(cfg.Camera.ReleaseTimeout),
		camera.WithObserver(camera.Observers{m, view.NewCameraAudit(s)}),
	)

	monOpts := view.MonitorOptions{
		Interval:         cfg.Monitor.PollInterval,
		Events:           s,
		PollObserver:     m,
		AnnounceObserver: m,
	}
	if len(cfg.Notify.Channels) > 0 {
		n, err := notifier.New(cfg.Notify.Channels)
		if err != nil {
			log.Fatalf("notification channels: %v", err)
		}
		monOpts.Announcer = n
		log.Printf("announcing verified attendance to %d channel(s)", len(n.Channels()))
	}
	monitor := view.NewMonitor(client, cam, monOpts)

	dashboard := view.NewDashboard(client, s, view.DashboardOptions{
		TokenRefresh:    cfg.Dashboard.TokenRefresh,
		DetailsInterval: cfg.Dashboard.DetailsPollInterval,
		Events:          s,
		PollObserver:    m,
		RotatorObserver: m,
	})
	if resumed, err := dashboard.Resume(context.Background()); err != nil {
		log.Printf("resuming session: %v", err)
	} else if resumed {
		log.Println("resumed the active session from the previous run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention := scheduler.New(s,
		scheduler.WithRetention(cfg.Retention.Window),
		scheduler.WithRunHour(cfg.Retention.RunHour),
	)
	retention.Start(ctx)
	defer retention.Stop()

	var opts []server.Option
	if cfg.CORSOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(cfg.CORSOrigin))
	}
	opts = append(opts, server.WithMetrics(m.Handler()), server.WithBackendCamera(client))
	srv := server.NewServer(s, cam, server.Screens{
		Monitor:    monitor,
		Enrollment: view.NewEnrollment(cam, client, s),
		Dashboard:  dashboard,
		Gallery:    view.NewGallery(client),
	}, opts...)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("attendsync listening on %s, backend %s", cfg.ListenAddr, client.BaseURL())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		dashboard.Shutdown()
		if _, err := monitor.Close(shutdownCtx); err != nil {
			log.Printf("closing monitor: %v", err)
		}
		if err := cam.Shutdown(shutdownCtx); err != nil {
			log.Printf("releasing camera: %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
	}
}
